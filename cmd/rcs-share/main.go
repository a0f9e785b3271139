// rcs-share is a command-line front end for the RCS content-sharing stack.
//
// Usage:
//
//	rcs-share [global flags] <command> [flags] [args]
//
// Commands:
//
//	loopback --file <path>              share a file between two in-process stacks
//	xdm init                            provision the presence documents
//	xdm get <path>                      print an XCAP document
//	xdm put <path> <file> <type>        upload an XCAP document
//
// Global flags:
//
//	--config     path to the YAML configuration
//	--log-level  override the configured log level
//
// Example:
//
//	rcs-share --log-level debug loopback --file photo.jpg
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/rcs/pkg/rcs"
	"github.com/pion/logging"
	"github.com/spf13/pflag"
)

// errUsage is returned after usage has been printed.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app carries what every command needs.
type app struct {
	configPath string
	logLevel   string

	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}

	flagSet := pflag.NewFlagSet("rcs-share", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&a.configPath, "config", "", "path to the YAML configuration")
	flagSet.StringVar(&a.logLevel, "log-level", "", "log level: disabled, error, warn, info, debug or trace")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return errUsage
	}
	switch rest[0] {
	case "loopback":
		return a.runLoopback(ctx, rest[1:])
	case "xdm":
		return a.runXDM(ctx, rest[1:])
	case "help":
		printUsage(stdout, flagSet)
		return nil
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

// loadConfig reads --config. Without one, fallback fills in the
// identity and address so commands that need no server still run.
func (a *app) loadConfig(fallback func(*rcs.Config)) (*rcs.Config, error) {
	var (
		cfg *rcs.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = rcs.LoadFile(a.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = rcs.Default()
		if fallback != nil {
			fallback(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w (use --config)", err)
		}
	}
	if a.logLevel != "" {
		if _, err := rcs.ParseLogLevel(a.logLevel); err != nil {
			return nil, err
		}
		cfg.LogLevel = a.logLevel
	}
	return cfg, nil
}

func (a *app) loggerFactory(cfg *rcs.Config) (logging.LoggerFactory, error) {
	f, err := rcs.NewLoggerFactory(cfg, a.stderr)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `rcs-share shares content over MSRP and manages XCAP documents.

Usage:
  rcs-share [global flags] <command> [flags] [args]

Commands:
  loopback --file <path> [--max-size N]   share a file between two in-process stacks
  xdm init                                provision the presence documents
  xdm get <path>                          print an XCAP document
  xdm put <path> <file> <content-type>    upload an XCAP document

Global flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
