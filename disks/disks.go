// Package disks holds predefined diskfile geometries. The CLI's mkfs command
// picks one by slug instead of taking raw inode and block counts.
package disks

import (
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
)

// DiskProfile describes one diskfile geometry: how many inode records and
// data blocks a formatted image holds. Block size is fixed by the on-disk
// format and is not part of a profile.
type DiskProfile struct {
	Name          string `csv:"name"`
	Slug          string `csv:"slug"`
	MaxInodes     uint32 `csv:"max_inodes"`
	MaxDataBlocks uint32 `csv:"max_data_blocks"`
	Notes         string `csv:"notes"`
}

// TotalBlocks gives the image size in blocks: superblock, two bitmap blocks,
// the packed inode region (sixteen records per block), then the data region.
func (p *DiskProfile) TotalBlocks(blockSize uint) uint {
	inodesPerBlock := uint(blockSize) / 256
	inodeRegion := (uint(p.MaxInodes) + inodesPerBlock - 1) / inodesPerBlock
	return 3 + inodeRegion + uint(p.MaxDataBlocks)
}

// TotalSizeBytes gives the size of the image file for this profile.
func (p *DiskProfile) TotalSizeBytes(blockSize uint) int64 {
	return int64(p.TotalBlocks(blockSize)) * int64(blockSize)
}

//go:embed profiles.csv
var diskProfilesRawCSV string
var diskProfiles = make(map[string]DiskProfile)

// GetPredefinedProfile returns the profile registered under `slug`.
func GetPredefinedProfile(slug string) (DiskProfile, error) {
	profile, ok := diskProfiles[slug]
	if ok {
		return profile, nil
	}
	return DiskProfile{}, fmt.Errorf("no predefined disk profile exists with slug %q", slug)
}

// Slugs lists every registered profile slug in sorted order.
func Slugs() []string {
	slugs := make([]string, 0, len(diskProfiles))
	for slug := range diskProfiles {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

func init() {
	reader := strings.NewReader(diskProfilesRawCSV)
	err := gocsv.UnmarshalToCallback(
		reader,
		func(row DiskProfile) error {
			_, exists := diskProfiles[row.Slug]
			if exists {
				return fmt.Errorf(
					"duplicate definition for disk profile %q found on row %d",
					row.Slug,
					len(diskProfiles)+1,
				)
			}
			diskProfiles[row.Slug] = row
			return nil
		},
	)
	if err != nil && err != io.EOF {
		panic(err)
	}
}
