package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dargueta/tinyfs"
	"github.com/dargueta/tinyfs/blockdev"
	"github.com/dargueta/tinyfs/disks"
	"github.com/dargueta/tinyfs/fusefs"
)

// diskfilePath is always the DISKFILE in the current working directory;
// there's no flag to override it.
func diskfilePath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, "DISKFILE"), nil
}

func main() {
	app := cli.App{
		Name:  "tinyfs",
		Usage: "Mount and manage Tiny FS disk images",
		Commands: []*cli.Command{
			{
				Name:      "mount",
				Usage:     "Mount the DISKFILE in the working directory, formatting it first if missing",
				Action:    mountImage,
				ArgsUsage: "MOUNTPOINT",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "log every FUSE request",
					},
				},
			},
			{
				Name:   "mkfs",
				Usage:  "Create a fresh DISKFILE in the working directory",
				Action: formatImage,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Value: "standard",
						Usage: fmt.Sprintf(
							"disk geometry profile, one of: %s",
							strings.Join(disks.Slugs(), ", ")),
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func mountImage(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("expected exactly one mountpoint argument")
	}
	mountpoint := context.Args().First()

	diskfile, err := diskfilePath()
	if err != nil {
		return err
	}
	engine, err := tinyfs.Init(diskfile)
	if err != nil {
		return err
	}
	defer engine.Close()

	server, err := fusefs.Serve(engine, mountpoint, context.Bool("debug"))
	if err != nil {
		return err
	}
	log.Printf("mounted %s on %s", diskfile, mountpoint)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	if err := server.Unmount(); err != nil {
		return err
	}
	server.Wait()
	return nil
}

func formatImage(context *cli.Context) error {
	profile, err := disks.GetPredefinedProfile(context.String("profile"))
	if err != nil {
		return err
	}

	diskfile, err := diskfilePath()
	if err != nil {
		return err
	}
	dev, err := blockdev.CreateFile(
		diskfile, tinyfs.BlockSize, profile.TotalBlocks(tinyfs.BlockSize))
	if err != nil {
		return err
	}
	defer dev.Close()

	err = tinyfs.Format(dev, tinyfs.FormatOptions{
		MaxInodes:     profile.MaxInodes,
		MaxDataBlocks: profile.MaxDataBlocks,
	})
	if err != nil {
		return err
	}
	log.Printf(
		"formatted %s with profile %q (%d inodes, %d data blocks)",
		diskfile, profile.Slug, profile.MaxInodes, profile.MaxDataBlocks)
	return nil
}
