// hassctl is a one-shot command line client for a Home Assistant gateway.
//
// Usage:
//
//	hassctl [flags] <command> [arguments]
//
// Commands:
//
//	ping                               round-trip a ping
//	config                             print the gateway configuration
//	states [prefix...]                 print entity states, optionally filtered by entity id prefix
//	services [domain...]               print the service catalog
//	panels                             print registered frontend panels
//	areas | devices | entities         print the registries
//	call <domain> <service> [json]     call a service with optional JSON service data
//	watch [-n count] [event_type]      stream events as JSON lines
//
// The gateway URL comes from -url, the config file or HASSLINK_GATEWAY_URL.
// The access token is read from HASSLINK_TOKEN or the config file only, so
// it never appears in the process list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/hasslink/internal/infrastructure/config"
	"github.com/nerrad567/hasslink/internal/infrastructure/logging"
	"github.com/nerrad567/hasslink/pkg/hass"
)

// Version information - set at build time via ldflags
var version = "dev"

const defaultTimeout = 10 * time.Second

// errUsage marks errors caused by bad arguments; main exits with status 2.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "hassctl: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// options holds the global flags.
type options struct {
	configPath string
	url        string
	timeout    time.Duration
	verbose    bool
}

// run parses args and executes one command, writing results to stdout and
// diagnostics to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("hassctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "config file (default: environment only)")
	fs.StringVar(&opts.url, "url", "", "gateway URL, overrides the config file")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "connect and request timeout")
	fs.BoolVar(&opts.verbose, "v", false, "log protocol activity to stderr")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: hassctl [flags] <command> [arguments]")
		fmt.Fprintln(stderr, "commands: ping config states services panels areas devices entities call watch")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("%w: missing command", errUsage)
	}

	name, cmdArgs := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log := logging.NewWithWriter(config.LoggingConfig{Level: level, Format: "text"}, version, stderr)

	connectCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	client, err := hass.Connect(connectCtx, cfg.Gateway.URL, cfg.Gateway.Token,
		hass.WithLogger(log.Component("gateway")),
		hass.WithQueueSize(cfg.Gateway.QueueSize),
		hass.WithEventBuffer(cfg.Gateway.EventBuffer),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Gateway.URL, err)
	}
	defer client.Close() //nolint:errcheck // nothing useful to do on exit

	return cmd(ctx, &env{
		client:  client,
		args:    cmdArgs,
		stdout:  stdout,
		stderr:  stderr,
		timeout: opts.timeout,
	})
}

// loadConfig reads the config file when one is given, the environment
// otherwise, and applies -url.
func loadConfig(opts options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	if opts.url != "" {
		cfg.Gateway.URL = opts.url
	}
	return cfg, nil
}
