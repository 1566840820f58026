package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/mengelbart/framegrab"
	"github.com/mengelbart/framegrab/cmdmain"
	"github.com/mengelbart/framegrab/flags"
	"github.com/mengelbart/framegrab/gstreamer"
)

func init() {
	cmdmain.RegisterSubCmd("grab", func() cmdmain.SubCmd { return new(Grab) })
}

type Grab struct{}

// Exec implements cmdmain.SubCmd.
func (g *Grab) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("grab", flag.ExitOnError)
	flags.RegisterInto(fs, flags.InputFlag, flags.OutputDirFlag, flags.SnapshotsFlag)
	timeout := fs.Duration("timeout", 30*time.Second, "Give up on a position after this long")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Extract single frames from a media file

Usage:
	%s grab [flags] <position>...

Positions are parsed as Go durations, e.g. 5s or 1m30s.

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if flags.Input == "" {
		return errors.New("missing -input file")
	}
	positions := make([]time.Duration, 0, fs.NArg())
	for _, arg := range fs.Args() {
		p, err := time.ParseDuration(arg)
		if err != nil {
			return fmt.Errorf("invalid position %q: %v", arg, err)
		}
		positions = append(positions, p)
	}
	if len(positions) == 0 {
		return errors.New("no positions given")
	}

	engine, err := gstreamer.NewEngine(gstreamer.WithSnapshots(flags.Snapshots))
	if err != nil {
		return err
	}
	extractor := framegrab.New(engine, flags.Input)
	defer extractor.Release()

	for _, pos := range positions {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		frame, err := extractor.Extract(pos).Await(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to extract frame at %v: %w", pos, err)
		}
		fmt.Fprintf(os.Stdout, "%v: frame with pts %v\n", pos, frame.PTS)
		if flags.Snapshots {
			if err := writeSnapshot(engine, frame); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSnapshot(engine *gstreamer.Engine, frame framegrab.Frame) error {
	img, pts, err := engine.Snapshot()
	if err != nil {
		return err
	}
	if pts != frame.PTS {
		return fmt.Errorf("snapshot is of frame %v, not %v", pts, frame.PTS)
	}
	name := filepath.Join(flags.OutputDir, fmt.Sprintf("frame_%08dms.png", frame.PTS.Milliseconds()))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// Help implements cmdmain.SubCmd.
func (g *Grab) Help() string {
	return "Extract single frames from a media file"
}
