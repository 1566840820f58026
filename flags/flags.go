// Package flags implements command-line flags for framegrab.
//
// The design idea is taken from [upspin.io/flags], but most of the code is
// modified. This package uses a slightly modified version of [RegisterInto] and
// the internal [flags]-map. See [Upspin LICENSE] for upspins copyright and
// license information.
//
// [upspin.io/flags]: https://github.com/upspin/upspin/tree/334f107fe3d98225d7adfbb35b74e066fbca9875/flags
// [Upspin LICENSE]: https://github.com/upspin/upspin/blob/334f107fe3d98225d7adfbb35b74e066fbca9875/LICENSE
package flags

import (
	"flag"
	"fmt"
)

type FlagName string

// flag keys
const (
	InputFlag     FlagName = "input"
	OutputDirFlag FlagName = "output-dir"
	SnapshotsFlag FlagName = "snapshots"

	HTTPAddrFlag  FlagName = "http-address"
	HTTPSAddrFlag FlagName = "https-address"

	CertFlag FlagName = "cert"
	KeyFlag  FlagName = "key"

	RequestRateFlag  FlagName = "request-rate"
	RequestBurstFlag FlagName = "request-burst"
)

// Flag vars
var (
	// Input is the media file frames are extracted from
	Input = ""

	// OutputDir is where snapshot images are written
	OutputDir = "."

	// Snapshots enables RGBA readback of extracted frames
	Snapshots = true

	// HTTP Server
	HTTPAddr = "127.0.0.1:8080"

	HTTPSAddr = "127.0.0.1:4443"

	Cert = "localhost.pem"

	Key = "localhost-key.pem"

	// RequestRate limits extraction requests per second on the HTTP API
	RequestRate = float64(10)

	RequestBurst = uint(5)
)

type flagVar func(*flag.FlagSet)

func stringVar(p *string, name FlagName, defaultValue *string, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.StringVar(p, string(name), *defaultValue, usage)
	}
}

func uintVar(p *uint, name FlagName, defaultValue *uint, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.UintVar(p, string(name), *defaultValue, usage)
	}
}

func boolVar(p *bool, name FlagName, defaultValue *bool, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.BoolVar(p, string(name), *defaultValue, usage)
	}
}

func float64Var(p *float64, name FlagName, defaultValue *float64, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.Float64Var(p, string(name), *defaultValue, usage)
	}
}

var flags = map[FlagName]flagVar{
	// IO flags
	InputFlag:     stringVar(&Input, InputFlag, &Input, "Media file to extract frames from"),
	OutputDirFlag: stringVar(&OutputDir, OutputDirFlag, &OutputDir, "Directory snapshot images are written to"),
	SnapshotsFlag: boolVar(&Snapshots, SnapshotsFlag, &Snapshots, "Keep an RGBA copy of each extracted frame"),

	// Address related flags
	HTTPAddrFlag:  stringVar(&HTTPAddr, HTTPAddrFlag, &HTTPAddr, "HTTP Server address"),
	HTTPSAddrFlag: stringVar(&HTTPSAddr, HTTPSAddrFlag, &HTTPSAddr, "HTTPS Server address"),

	// TLS Certificate
	CertFlag: stringVar(&Cert, CertFlag, &Cert, "TLS Certificate"),
	KeyFlag:  stringVar(&Key, KeyFlag, &Key, "TLS Certificate key"),

	// API rate limit flags
	RequestRateFlag:  float64Var(&RequestRate, RequestRateFlag, &RequestRate, "Maximum extraction requests per second served by the API"),
	RequestBurstFlag: uintVar(&RequestBurst, RequestBurstFlag, &RequestBurst, "Burst size of the API request limiter"),
}

func RegisterInto(fs *flag.FlagSet, names ...FlagName) {
	if len(names) == 0 {
		for _, f := range flags {
			f(fs)
		}
	} else {
		for _, n := range names {
			f, ok := flags[n]
			if !ok {
				panic(fmt.Sprintf("unknown flag: %q", n))
			}
			f(fs)
		}
	}
}
