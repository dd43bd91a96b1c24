package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/plumbing"
	"github.com/bodgit/wiidisc"
	"github.com/bodgit/wiidisc/wia"
	"github.com/hashicorp/go-multierror"
	"github.com/lmittmann/tint"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var fs = afero.NewOsFs()

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func setupLogging(format, level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return err
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: l,
		})
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level: l,
		})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	slog.SetDefault(slog.New(handler))

	return nil
}

func openContainer(name string) (*wia.ReadCloser, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}

	rc, err := wia.NewReadCloser(f, wia.WithLogger(slog.Default()))
	if err != nil {
		return nil, multierror.Append(err, f.Close())
	}

	return rc, nil
}

func info(name string, w io.Writer) error {
	rc, err := openContainer(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	d := rc.Descriptor()

	format := "WIA"
	if d.Header.IsRVZ() {
		format = "RVZ"
	}

	fmt.Fprintf(w, "Format:      %s %d.%d\n", format, d.Header.Version>>24, d.Header.Version>>16&0xff)
	fmt.Fprintf(w, "Disc:        %s %s\n", d.DiscType, strings.TrimRight(string(d.DiscHead[:6]), "\x00"))
	fmt.Fprintf(w, "Size:        %d bytes (stored %d)\n", d.Header.ISOSize, d.Header.FileSize)
	fmt.Fprintf(w, "Compression: %s level %d\n", d.Compression, d.CompressionLevel)
	fmt.Fprintf(w, "Chunk size:  %#x\n", d.ChunkSize)
	fmt.Fprintf(w, "Groups:      %d\n", len(d.Groups))

	for _, r := range d.Regions() {
		kind := "raw"
		if r.Partitioned {
			kind = "partition"
		}
		fmt.Fprintf(w, "  %-9s %#010x-%#010x groups %d+%d\n", kind, r.Offset, r.End(), r.GroupIndex, r.Groups)
	}

	return nil
}

func decompress(src, dst string, verbose bool) error {
	if dst == "" {
		if ext := filepath.Ext(src); ext == wiidisc.Extension {
			return fmt.Errorf("source file %s already has %s extension", src, wiidisc.Extension)
		}

		dst = strings.TrimSuffix(strings.TrimSuffix(src, wia.Extension), wia.RVZExtension) + wiidisc.Extension
	}

	rc, err := openContainer(src)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := fs.Create(dst)
	if err != nil {
		return err
	}

	var w io.WriteCloser = f

	if verbose {
		pb := progressbar.DefaultBytes(rc.Size())
		w = plumbing.MultiWriteCloser(w, plumbing.NopWriteCloser(pb))
	}

	defer w.Close()

	head := rc.Descriptor().DiscHead
	if _, err = w.Write(head[:]); err != nil {
		return err
	}

	// Only the regions are copied, anything between them stays sparse
	for _, r := range rc.Descriptor().Regions() {
		start, end := r.Offset, r.End()
		if start < wia.DiscHeadSize {
			start = wia.DiscHeadSize
		}
		if end > rc.Size() {
			end = rc.Size()
		}
		if start >= end {
			continue
		}

		if _, err = f.Seek(start, io.SeekStart); err != nil {
			return err
		}
		if _, err = io.Copy(w, io.NewSectionReader(rc, start, end-start)); err != nil {
			return err
		}
	}

	return f.Truncate(rc.Size())
}

func openFile(name string) (wiidisc.ReadCloser, error) {
	return wia.Open(name, wia.WithLogger(slog.Default()))
}

func decrypt(name, keys, directory string, partition int, verify bool) error {
	rc, err := openFile(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	if fi, err := fs.Stat(directory); err != nil || !fi.IsDir() {
		if err != nil {
			return err
		}
		return errors.New("not a directory")
	}

	partitions, err := wiidisc.ReadPartitions(rc)
	if err != nil {
		return err
	}

	// Containers hold partition data already decrypted
	_, stored := rc.(*wia.ReadCloser)

	var ks *wiidisc.KeyStore
	if !stored {
		if ks, err = wiidisc.LoadKeyStore(keys); err != nil {
			return err
		}
	}

	opts := []wiidisc.Option{wiidisc.WithLogger(slog.Default())}
	if verify {
		opts = append(opts, wiidisc.WithVerify())
	}

	for i := range partitions {
		if partition >= 0 && i != partition {
			continue
		}
		p := &partitions[i]

		var r wiidisc.Reader
		if stored {
			r = io.NewSectionReader(rc, p.Offset+p.DataOffset, p.DataSize/wiidisc.ClusterSize*wiidisc.ClusterDataSize)
		} else if r, err = p.Open(rc, ks, opts...); err != nil {
			return err
		}

		target := filepath.Join(directory, fmt.Sprintf("partition%d.%d.bin", i, p.Type))
		slog.Info("decrypting partition", "index", i, "type", p.Type, "title", fmt.Sprintf("%016x", p.Ticket.TitleID), "size", r.Size(), "target", target)

		if err = copyFile(target, r); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(name string, r io.Reader) error {
	f, err := fs.Create(name)
	if err != nil {
		return err
	}

	if _, err = io.Copy(f, r); err != nil {
		return multierror.Append(err, f.Close())
	}

	return f.Close()
}

func main() {
	app := cli.NewApp()

	app.Name = "wiidisc"
	app.Usage = "GameCube and Wii disc image utility"
	app.Version = fmt.Sprintf("%s, commit %s, built at %s", version, commit, date)

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "log `FORMAT`, text or json",
			Value: "text",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "minimum log `LEVEL`",
			Value: "info",
		},
	}

	app.Before = func(c *cli.Context) error {
		return setupLogging(c.String("log-format"), c.String("log-level"))
	}

	app.Commands = []*cli.Command{
		{
			Name:        "info",
			Usage:       "Show the layout of a " + wia.Extension + " or " + wia.RVZExtension + " file",
			Description: "",
			ArgsUsage:   "FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return info(c.Args().Get(0), c.App.Writer)
			},
		},
		{
			Name:        "decompress",
			Usage:       "Decompress a " + wia.Extension + " or " + wia.RVZExtension + " file to a " + wiidisc.Extension + " file",
			Description: "",
			ArgsUsage:   "SOURCE [TARGET]",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return decompress(c.Args().Get(0), c.Args().Get(1), c.Bool("verbose"))
			},
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "verbose",
					Aliases: []string{"v"},
					Usage:   "increase verbosity",
				},
			},
		},
		{
			Name:        "decrypt",
			Usage:       "Write the decrypted data of each Wii partition in a " + wiidisc.Extension + ", " + wia.Extension + " or " + wia.RVZExtension + " file",
			Description: "",
			ArgsUsage:   "FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				file := c.Args().Get(0)

				keys := c.Path("keys")
				if keys == "" {
					keys = filepath.Dir(file)
				}

				return decrypt(file, keys, c.Path("directory"), c.Int("partition"), c.Bool("verify"))
			},
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:    "directory",
					Aliases: []string{"d"},
					Usage:   "write to `DIRECTORY`",
					Value:   cwd,
				},
				&cli.PathFlag{
					Name:    "keys",
					Aliases: []string{"k"},
					Usage:   "read " + wiidisc.CommonKeyFile + " and friends from `DIRECTORY`",
				},
				&cli.IntFlag{
					Name:    "partition",
					Aliases: []string{"p"},
					Usage:   "only decrypt partition `INDEX`",
					Value:   -1,
				},
				&cli.BoolFlag{
					Name:  "verify",
					Usage: "check cluster hashes while decrypting",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
