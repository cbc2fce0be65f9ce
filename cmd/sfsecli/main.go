// Command sfsecli is the interactive text console for sfse, plus a set of
// one-shot urfave/cli/v2 subcommands covering the same verb surface so
// the filesystem can be driven from scripts as well as a human typing at
// a prompt.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nottruefalse/sfse/block"
	"github.com/nottruefalse/sfse/crypt"
	"github.com/nottruefalse/sfse/devregistry"
	"github.com/nottruefalse/sfse/engine"
)

var commonFlags = []cli.Flag{
	&cli.StringFlag{Name: "image", Usage: "path to the device image, or a devregistry serial", Required: true},
	&cli.Uint64Flag{Name: "block-size", Usage: "logical block size B", Value: engine.BlockSize},
	&cli.Uint64Flag{Name: "skip", Usage: "leading skip, in block-size units"},
	&cli.Uint64Flag{Name: "sector-size", Usage: "physical sector size", Value: 512},
	&cli.StringFlag{Name: "password", Usage: "sector crypt password (omit to run in plaintext mode)"},
	&cli.StringFlag{Name: "pin", Usage: "sector crypt PIN"},
	&cli.BoolFlag{Name: "strict-compat", Usage: "replicate the reference implementation's double-indirect traversal bug"},
}

func main() {
	app := &cli.App{
		Name:  "sfsecli",
		Usage: "Mount and manipulate an sfse filesystem image",
		Flags: commonFlags,
		Action: func(c *cli.Context) error {
			return runREPL(c)
		},
		Commands: []*cli.Command{
			{Name: "list", Usage: "list every file", Flags: commonFlags, Action: cmdList},
			{Name: "read", Usage: "print a file's contents", Flags: commonFlags, ArgsUsage: "NAME", Action: cmdRead},
			{Name: "dump", Usage: "write a file's contents to a host path", Flags: commonFlags, ArgsUsage: "NAME OUTPATH", Action: cmdDump},
			{Name: "create", Usage: "create a file from a host path", Flags: commonFlags, ArgsUsage: "NAME PATH", Action: cmdCreate},
			{Name: "delete", Usage: "delete a file", Flags: commonFlags, ArgsUsage: "NAME", Action: cmdDelete},
			{Name: "rename", Usage: "rename a file", Flags: commonFlags, ArgsUsage: "OLD NEW", Action: cmdRename},
			{Name: "reset", Usage: "wipe the superblock/bitmap/inode regions", Flags: commonFlags, Action: cmdReset},
			{Name: "usage", Usage: "report space and inode usage", Flags: commonFlags, Action: cmdUsage},
			{Name: "verify", Usage: "check directory/bitmap consistency", Flags: commonFlags, Action: cmdVerify},
			{Name: "benchmark", Usage: "time create/read/delete of a scratch file", Flags: commonFlags, Action: cmdBenchmark},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("sfsecli: %s", err)
	}
}

func openEngine(c *cli.Context) (*engine.Engine, error) {
	imagePath := devregistry.Resolve(c.String("image"))
	blockSize := uint32(c.Uint64("block-size"))
	skip := uint32(c.Uint64("skip"))
	sectorSize := uint32(c.Uint64("sector-size"))

	dev := block.NewFileDevice(imagePath, sectorSize, skip)

	var sectorCrypt *crypt.SectorCrypt
	if password := c.String("password"); password != "" {
		pin := c.String("pin")
		var err error
		sectorCrypt, err = crypt.New(password, pin)
		if err != nil {
			return nil, fmt.Errorf("crypt.New: %w", err)
		}
	}

	var opts []engine.Option
	if c.Bool("strict-compat") {
		opts = append(opts, engine.WithStrictCompat(true))
	}

	return engine.Open(dev, blockSize, skip, sectorCrypt, opts...)
}

func humanReadable(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func cmdList(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, name := range e.List() {
		ino, _ := e.Stat(name)
		fmt.Printf("%s (%s)\n", name, humanReadable(ino.Size))
	}
	return nil
}

func cmdRead(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	name := c.Args().First()
	r, err := e.ReadFile(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(os.Stdout, r)
	return err
}

func cmdDump(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	name := c.Args().Get(0)
	outPath := c.Args().Get(1)

	r, err := e.ReadFile(name)
	if err != nil {
		return err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		return err
	}
	fmt.Printf("dumped %s to %s\n", humanReadable(uint64(written)), outPath)
	return nil
}

func cmdCreate(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	name := c.Args().Get(0)
	srcPath := c.Args().Get(1)

	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := e.CreateFile(name, f, uint64(info.Size())); err != nil {
		return err
	}
	fmt.Println("file created successfully")
	return nil
}

func cmdDelete(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.DeleteFile(c.Args().First()); err != nil {
		return err
	}
	fmt.Println("file deleted successfully")
	return nil
}

func cmdRename(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.RenameFile(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return err
	}
	fmt.Println("file renamed successfully")
	return nil
}

func cmdReset(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.ResetDisk(); err != nil {
		return err
	}
	fmt.Println("disk reset")
	return nil
}

func cmdUsage(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	u := e.Usage()
	fmt.Printf("inodes: %d/%d\n", u.UsedInodes, u.TotalInodes)
	fmt.Printf("used space: %s\n", humanReadable(u.UsedBytes))
	fmt.Printf("max file size: %s\n", humanReadable(u.MaxFileSize))
	return nil
}

func cmdVerify(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Verify(); err != nil {
		return err
	}
	fmt.Println("consistent")
	return nil
}

func cmdBenchmark(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	const size = int64(5 << 20)
	tmp, err := os.CreateTemp("", "sfsecli-benchmark-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.CopyN(tmp, rngReader{}, size); err != nil {
		return err
	}
	tmp.Close()

	run := func(label string) error {
		start := time.Now()
		if err := e.ResetDisk(); err != nil {
			return err
		}
		resetElapsed := time.Since(start)

		f, err := os.Open(tmp.Name())
		if err != nil {
			return err
		}
		defer f.Close()

		start = time.Now()
		if err := e.CreateFile("benchmark", f, uint64(size)); err != nil {
			return err
		}
		writeElapsed := time.Since(start)

		start = time.Now()
		r, err := e.ReadFile("benchmark")
		if err != nil {
			return err
		}
		if _, err := io.Copy(io.Discard, r); err != nil {
			return err
		}
		readElapsed := time.Since(start)

		start = time.Now()
		if err := e.DeleteFile("benchmark"); err != nil {
			return err
		}
		deleteElapsed := time.Since(start)

		fmt.Printf("%s: reset=%s write=%s read=%s delete=%s\n", label, resetElapsed, writeElapsed, readElapsed, deleteElapsed)
		return nil
	}

	return run("benchmark")
}

// rngReader streams deterministic non-zero bytes without allocating the
// whole payload up front.
type rngReader struct{}

func (rngReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(i%251 + 1)
	}
	return len(p), nil
}

func runREPL(c *cli.Context) error {
	e, err := openEngine(c)
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Println("Welcome to Super FileSystem Explorer")
	u := e.Usage()
	fmt.Printf("inodes: %d/%d, used space: %s, max file size: %s\n",
		u.UsedInodes, u.TotalInodes, humanReadable(u.UsedBytes), humanReadable(u.MaxFileSize))
	fmt.Println("Options: [list, read <file>, dump <file> <out>, create <file> <path>, delete <file>, rename <old> <new>, reset, verify, usage, exit]")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if err := dispatch(e, fields); err != nil {
			if err == errExit {
				return nil
			}
			fmt.Printf("error: %s\n", err)
		}
	}
}

var errExit = fmt.Errorf("exit")

func dispatch(e *engine.Engine, fields []string) error {
	switch fields[0] {
	case "exit":
		return errExit
	case "list":
		for _, name := range e.List() {
			ino, _ := e.Stat(name)
			fmt.Printf("  %s (%s)\n", name, humanReadable(ino.Size))
		}
	case "read":
		if len(fields) < 2 {
			return fmt.Errorf("usage: read <file>")
		}
		r, err := e.ReadFile(fields[1])
		if err != nil {
			return err
		}
		_, err = io.Copy(os.Stdout, r)
		fmt.Println()
		return err
	case "dump":
		if len(fields) < 3 {
			return fmt.Errorf("usage: dump <file> <out>")
		}
		r, err := e.ReadFile(fields[1])
		if err != nil {
			return err
		}
		out, err := os.Create(fields[2])
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, r)
		return err
	case "create":
		if len(fields) < 3 {
			return fmt.Errorf("usage: create <file> <path>")
		}
		f, err := os.Open(fields[2])
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if err := e.CreateFile(fields[1], f, uint64(info.Size())); err != nil {
			return err
		}
		fmt.Println("file created successfully")
	case "delete":
		if len(fields) < 2 {
			return fmt.Errorf("usage: delete <file>")
		}
		if err := e.DeleteFile(fields[1]); err != nil {
			return err
		}
		fmt.Println("file deleted successfully")
	case "rename":
		if len(fields) < 3 {
			return fmt.Errorf("usage: rename <old> <new>")
		}
		if err := e.RenameFile(fields[1], fields[2]); err != nil {
			return err
		}
		fmt.Println("file renamed successfully")
	case "reset":
		if err := e.ResetDisk(); err != nil {
			return err
		}
		fmt.Println("disk reset")
	case "usage":
		u := e.Usage()
		fmt.Printf("inodes: %d/%d, used space: %s\n", u.UsedInodes, u.TotalInodes, humanReadable(u.UsedBytes))
	case "verify":
		if err := e.Verify(); err != nil {
			return err
		}
		fmt.Println("consistent")
	default:
		return fmt.Errorf("invalid command")
	}
	return nil
}
