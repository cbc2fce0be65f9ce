// Command sfseexplorer is a non-interactive, flag-driven browser over an
// sfse image. It stands in for a graphical file explorer -- no GUI
// toolkit is groundable from the reference corpus (see DESIGN.md) -- by
// exposing the same read-only verb surface (list/usage/dump) a windowed
// explorer would otherwise wrap, always mounting the device read-only.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nottruefalse/sfse/block"
	"github.com/nottruefalse/sfse/crypt"
	"github.com/nottruefalse/sfse/devregistry"
	"github.com/nottruefalse/sfse/engine"
)

func main() {
	app := &cli.App{
		Name:  "sfseexplorer",
		Usage: "Browse an sfse image read-only",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Required: true, Usage: "path to the device image, or a devregistry serial"},
			&cli.Uint64Flag{Name: "block-size", Value: engine.BlockSize},
			&cli.Uint64Flag{Name: "skip"},
			&cli.Uint64Flag{Name: "sector-size", Value: 512},
			&cli.StringFlag{Name: "password"},
			&cli.StringFlag{Name: "pin"},
		},
		Commands: []*cli.Command{
			{Name: "list", Usage: "list every file with its size", Action: list},
			{Name: "usage", Usage: "report space and inode usage", Action: usage},
			{Name: "dump", Usage: "write NAME's contents to OUTPATH", ArgsUsage: "NAME OUTPATH", Action: dump},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("sfseexplorer: %s", err)
	}
}

func open(c *cli.Context) (*engine.Engine, error) {
	imagePath := devregistry.Resolve(c.String("image"))
	dev := block.NewFileDevice(imagePath, uint32(c.Uint64("sector-size")), uint32(c.Uint64("skip")))

	var sectorCrypt *crypt.SectorCrypt
	if password := c.String("password"); password != "" {
		var err error
		sectorCrypt, err = crypt.New(password, c.String("pin"))
		if err != nil {
			return nil, err
		}
	}

	return engine.Open(dev, uint32(c.Uint64("block-size")), uint32(c.Uint64("skip")), sectorCrypt, engine.WithReadOnly(true))
}

func list(c *cli.Context) error {
	e, err := open(c)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, name := range e.List() {
		ino, _ := e.Stat(name)
		fmt.Printf("%-32s %10d bytes\n", name, ino.Size)
	}
	return nil
}

func usage(c *cli.Context) error {
	e, err := open(c)
	if err != nil {
		return err
	}
	defer e.Close()

	u := e.Usage()
	fmt.Printf("blocks:  %d total, %d data\n", u.TotalBlocks, u.DataBlocks)
	fmt.Printf("inodes:  %d/%d\n", u.UsedInodes, u.TotalInodes)
	fmt.Printf("used:    %d bytes\n", u.UsedBytes)
	fmt.Printf("max file size: %d bytes\n", u.MaxFileSize)
	return nil
}

func dump(c *cli.Context) error {
	e, err := open(c)
	if err != nil {
		return err
	}
	defer e.Close()

	name := c.Args().Get(0)
	outPath := c.Args().Get(1)
	if name == "" || outPath == "" {
		return fmt.Errorf("usage: dump NAME OUTPATH")
	}

	r, err := e.ReadFile(name)
	if err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, r)
	return err
}
