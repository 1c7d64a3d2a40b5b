// capacityctl drives a running reservations service from the command line.
//
//	capacityctl load  --event evt-1 --requesters 500 --open 100
//	capacityctl watch --event evt-1
//
// load fires concurrent reservations at one event and checks that no more
// were confirmed than the event holds. watch keeps a live capacity view
// through the subscription manager and prints every accepted change.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rsvp/pkg/logger"

	"github.com/spf13/pflag"
)

type commonFlags struct {
	baseURL string
	eventID string
	timeout time.Duration
	verbose bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.baseURL, "url", "http://localhost:8080", "base URL of the reservations service")
	fs.StringVarP(&c.eventID, "event", "e", "", "event ID (required)")
	fs.DurationVar(&c.timeout, "timeout", 10*time.Second, "per-request timeout")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")
}

func (c *commonFlags) validate() error {
	if c.eventID == "" {
		return errors.New("--event is required")
	}
	return nil
}

func (c *commonFlags) logger() *logger.Logger {
	level := logger.INFO
	if c.verbose {
		level = logger.DEBUG
	}
	return logger.New(logger.Config{
		Level:   level,
		Format:  logger.TEXT,
		Service: "capacityctl",
	})
}

func (c *commonFlags) httpClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "load":
		return runLoad(ctx, args[1:])
	case "watch":
		return runWatch(ctx, args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `capacityctl exercises a reservations service.

Usage:
  capacityctl load  --event ID [--requesters N] [--concurrency N] [--open CAPACITY]
  capacityctl watch --event ID

Run "capacityctl <command> --help" for the flags of a command.
`)
}

func parse(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return false, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return true, nil
}
