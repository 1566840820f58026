package subcmd

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/framegrab"
	"github.com/mengelbart/framegrab/cmdmain"
	"github.com/mengelbart/framegrab/flags"
	"github.com/mengelbart/framegrab/gstreamer"
	api "github.com/mengelbart/framegrab/http"
	server "github.com/mengelbart/framegrab/internal/http"
	"golang.org/x/time/rate"
)

func init() {
	cmdmain.RegisterSubCmd("serve", func() cmdmain.SubCmd { return new(Serve) })
}

type Serve struct{}

// Exec implements cmdmain.SubCmd.
func (s *Serve) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	flags.RegisterInto(fs,
		flags.InputFlag,
		flags.SnapshotsFlag,
		flags.HTTPAddrFlag,
		flags.HTTPSAddrFlag,
		flags.CertFlag,
		flags.KeyFlag,
		flags.RequestRateFlag,
		flags.RequestBurstFlag,
	)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Run a frame extraction server

Usage:
	%s serve [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if len(fs.Args()) > 0 {
		fmt.Printf("error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}
	if flags.Input == "" {
		return errors.New("missing -input file")
	}

	engine, err := gstreamer.NewEngine(gstreamer.WithSnapshots(flags.Snapshots))
	if err != nil {
		return err
	}
	extractor := framegrab.New(engine, flags.Input)
	defer extractor.Release()

	opts := []api.APIOption{
		api.WithRequestLimit(rate.Limit(flags.RequestRate), int(flags.RequestBurst)),
	}
	if flags.Snapshots {
		opts = append(opts, api.WithSnapshots(engine))
	}
	mux := httprouter.New()
	api.NewAPI(extractor, opts...).RegisterRoutes(mux)

	srv, err := server.NewServer(
		server.Address(flags.HTTPAddr),
		server.TLSAddress(flags.HTTPSAddr),
		server.Handle(mux),
		server.CertificateFile(flags.Cert),
		server.CertificateKeyFile(flags.Key),
		server.RequestLogger(slog.Default()),
	)
	if err != nil {
		return err
	}
	return srv.ListenAndServe()
}

// Help implements cmdmain.SubCmd.
func (s *Serve) Help() string {
	return "Run a frame extraction server"
}
