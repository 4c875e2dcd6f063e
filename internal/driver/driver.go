// Package driver wires the command-line surface (spec.md §6.1) together:
// flag parsing, the schema-registry subcommands (`protobuf add`/`protobuf
// list`), and the stdin → source codec → pipeline → sink codec → stdout
// main loop, reporting the exit codes spec.md §6.1 fixes (0 success, 1
// stream error, 2 usage error, 3 I/O error).
//
// Grounded on `cmd/cc-backend/cli.go`'s flat `flag.BoolVar`/`flag.StringVar`
// + `flag.Parse()` style: no subcommand framework (cobra/urfave) appears
// anywhere in the teacher, so none is introduced here either.
package driver

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/recordquery/rq/internal/codec"
	_ "github.com/recordquery/rq/internal/codec/avro"
	_ "github.com/recordquery/rq/internal/codec/cbor"
	_ "github.com/recordquery/rq/internal/codec/csv"
	_ "github.com/recordquery/rq/internal/codec/hjson"
	_ "github.com/recordquery/rq/internal/codec/influxlp"
	_ "github.com/recordquery/rq/internal/codec/json"
	_ "github.com/recordquery/rq/internal/codec/msgpack"
	"github.com/recordquery/rq/internal/codec/protobuf"
	_ "github.com/recordquery/rq/internal/codec/smile"
	_ "github.com/recordquery/rq/internal/codec/toml"
	_ "github.com/recordquery/rq/internal/codec/yaml"
	"github.com/recordquery/rq/internal/config"
	"github.com/recordquery/rq/internal/pipeline"
	"github.com/recordquery/rq/internal/query"
	"github.com/recordquery/rq/internal/registry"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/internal/rqlog"
)

const (
	ExitSuccess     = 0
	ExitStreamError = 1
	ExitUsageError  = 2
	ExitIOError     = 3
)

// Run executes the CLI against args (os.Args[1:]) and returns the process
// exit code.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "protobuf" {
		return runSchemaCmd(args[1:], stdout, stderr)
	}
	return runPipeline(args, stdin, stdout, stderr)
}

// optsFlag accumulates repeated -input-opt/-output-opt key=value flags into
// a codec.Options map, the vehicle for "Protobuf message name, CSV header
// flag" (spec.md §6.1).
type optsFlag codec.Options

func (o *optsFlag) String() string {
	if *o == nil {
		return ""
	}
	parts := make([]string, 0, len(*o))
	for k, v := range *o {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (o *optsFlag) Set(s string) error {
	if *o == nil {
		*o = optsFlag{}
	}
	key, val, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	(*o)[key] = val
	return nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runPipeline(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := newFlagSet("rq", stderr)

	var inputFormat, outputFormat, queryStr, registryDir, logLevel string
	var verbose, debugMetrics bool
	var inputOpts, outputOpts optsFlag

	fs.StringVar(&inputFormat, "i", "", "input wire format name (required)")
	fs.StringVar(&outputFormat, "o", "", "output wire format name (default from config, normally json)")
	fs.StringVar(&queryStr, "q", "", "pipeline query string (default from config, normally \"id\")")
	fs.StringVar(&registryDir, "registry", "", "schema registry root directory (overrides config)")
	fs.StringVar(&logLevel, "loglevel", "", "log level: debug, info, warn, err, crit")
	fs.BoolVar(&verbose, "v", false, "shorthand for -loglevel debug")
	fs.BoolVar(&debugMetrics, "debug-metrics", false, "dump per-stage record counters to stderr at end of stream")
	fs.Var(&inputOpts, "input-opt", "input codec option `key=value` (repeatable)")
	fs.Var(&outputOpts, "output-opt", "output codec option `key=value` (repeatable)")

	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	cfg, err := config.Load()
	if err != nil {
		report(stderr, err)
		return exitForSetupError(err)
	}
	if outputFormat != "" {
		cfg.OutputFormat = outputFormat
	}
	if queryStr != "" {
		cfg.Query = queryStr
	}
	if registryDir != "" {
		cfg.RegistryDir = registryDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	rqlog.SetLevel(cfg.LogLevel)

	if inputFormat == "" {
		fmt.Fprintln(stderr, "rq: -i input format is required")
		return ExitUsageError
	}

	reg, err := registry.New(cfg.RegistryDir)
	if err != nil {
		report(stderr, err)
		return exitForSetupError(err)
	}
	protobuf.SetRegistry(reg)

	srcFormat, ok := codec.Lookup(inputFormat)
	if !ok {
		fmt.Fprintf(stderr, "rq: unknown input format %q (known: %s)\n", inputFormat, strings.Join(codec.Names(), ", "))
		return ExitUsageError
	}
	sinkFormat, ok := codec.Lookup(cfg.OutputFormat)
	if !ok {
		fmt.Fprintf(stderr, "rq: unknown output format %q (known: %s)\n", cfg.OutputFormat, strings.Join(codec.Names(), ", "))
		return ExitUsageError
	}

	q, err := query.Parse(cfg.Query)
	if err != nil {
		report(stderr, err)
		return ExitUsageError
	}
	pipe, err := pipeline.Compile(q)
	if err != nil {
		report(stderr, err)
		return ExitUsageError
	}

	dec, err := srcFormat.NewDecoder(stdin, codec.Options(inputOpts))
	if err != nil {
		report(stderr, err)
		return exitForSetupError(err)
	}
	enc, err := sinkFormat.NewEncoder(stdout, codec.Options(outputOpts))
	if err != nil {
		report(stderr, err)
		return exitForSetupError(err)
	}

	exitCode := run(pipe, dec, enc, stderr)

	// A failed Close still needs reporting, but a prior in-loop failure
	// already set exitCode and already reported a diagnostic.
	if err := enc.Close(); err != nil && exitCode == ExitSuccess {
		report(stderr, err)
		exitCode = exitForStreamError(err)
	}

	if debugMetrics || verbose {
		if err := pipe.WriteMetrics(stderr); err != nil {
			rqlog.Warnf("writing debug metrics: %v", err)
		}
	}

	return exitCode
}

// run drives records from dec through pipe into enc until EOF, a hard
// error, or pipe.Done() (limit(n) satisfied), then drains pipe's terminal
// stages. Returns the exit code for whatever happened.
func run(pipe *pipeline.Pipeline, dec codec.Decoder, enc codec.Encoder, stderr io.Writer) int {
	for !pipe.Done() {
		v, err := dec.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			report(stderr, err)
			return exitForStreamError(err)
		}

		outs, err := pipe.Push(v)
		if err != nil {
			report(stderr, err)
			return exitForStreamError(err)
		}
		for _, o := range outs {
			if err := enc.Encode(o); err != nil {
				report(stderr, err)
				return exitForStreamError(err)
			}
		}
	}

	drained, err := pipe.Finish()
	if err != nil {
		report(stderr, err)
		return exitForStreamError(err)
	}
	for _, o := range drained {
		if err := enc.Encode(o); err != nil {
			report(stderr, err)
			return exitForStreamError(err)
		}
	}
	return ExitSuccess
}

func runSchemaCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("rq protobuf", stderr)
	var registryDir string
	fs.StringVar(&registryDir, "registry", "", "schema registry root directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "usage: rq protobuf add <path> | rq protobuf list")
		return ExitUsageError
	}

	cfg, err := config.Load()
	if err != nil {
		report(stderr, err)
		return exitForSetupError(err)
	}
	if registryDir != "" {
		cfg.RegistryDir = registryDir
	}

	reg, err := registry.New(cfg.RegistryDir)
	if err != nil {
		report(stderr, err)
		return exitForSetupError(err)
	}

	switch rest[0] {
	case "add":
		if len(rest) < 2 {
			fmt.Fprintln(stderr, "usage: rq protobuf add <path>")
			return ExitUsageError
		}
		if err := reg.AddProto(context.Background(), rest[1]); err != nil {
			report(stderr, err)
			return exitForSetupError(err)
		}
		return ExitSuccess
	case "list":
		for _, name := range reg.List() {
			fmt.Fprintln(stdout, name)
		}
		return ExitSuccess
	default:
		fmt.Fprintf(stderr, "rq protobuf: unknown subcommand %q\n", rest[0])
		return ExitUsageError
	}
}

func report(w io.Writer, err error) {
	fmt.Fprintf(w, "rq: %v\n", err)
}

// exitForSetupError maps a failure that happens before any record is read
// (config load, registry open, decoder/encoder construction) to spec.md
// §7's "usage errors abort before any records are processed" rule, except
// when the failure is itself an I/O failure opening a file or socket.
func exitForSetupError(err error) int {
	if e, ok := err.(*rqerr.Error); ok && e.Kind == rqerr.IO {
		return ExitIOError
	}
	return ExitUsageError
}

// exitForStreamError maps a failure during the read/process/write loop to
// spec.md §6.1's exit codes: I/O failures are 3, usage failures (malformed
// operator arguments caught only once evaluated) are 2, everything else
// (parse/type/serialize) is the general stream-error code 1.
func exitForStreamError(err error) int {
	if e, ok := err.(*rqerr.Error); ok {
		switch e.Kind {
		case rqerr.IO:
			return ExitIOError
		case rqerr.Usage:
			return ExitUsageError
		}
	}
	return ExitStreamError
}
