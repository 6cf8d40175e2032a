package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/failover"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

// Version is set at build time.
var Version = "dev"

// errNotConnected makes the process exit with status 1 without an error line.
var errNotConnected = errors.New("not connected")

// app carries the root flags into the subcommands.
type app struct {
	configPath string
	logLevel   string
	jsonOut    bool

	cfg    *config.Config
	sys    *failover.System
	logger *logx.Logger
}

// setup loads the configuration and builds the system adapters once.
func (a *app) setup() error {
	if a.sys != nil {
		return nil
	}
	a.logger = logx.NewLogger(a.logLevel, "netswitchctl")
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	sys, err := failover.NewSystem(cfg, nil, a.logger)
	if err != nil {
		return err
	}
	a.cfg, a.sys = cfg, sys
	return nil
}

func main() {
	a := &app{}
	rootFlagSet := flag.NewFlagSet("netswitchctl", flag.ExitOnError)
	rootFlagSet.StringVar(&a.configPath, "config", config.DefaultConfigPath, "path to the configuration file (env: NETSWITCH_CONFIG)")
	rootFlagSet.StringVar(&a.logLevel, "log-level", "warn", "log level (env: NETSWITCH_LOG_LEVEL)")
	rootFlagSet.BoolVar(&a.jsonOut, "json", false, "output in JSON format")
	version := rootFlagSet.Bool("version", false, "display version")

	root := &ffcli.Command{
		Name:       "netswitchctl",
		ShortUsage: "netswitchctl [flags] <subcommand> [args...]",
		ShortHelp:  "Inspect and drive network failover",
		FlagSet:    rootFlagSet,
		Options:    []ff.Option{ff.WithEnvVarPrefix("NETSWITCH")},
		Subcommands: []*ffcli.Command{
			a.checkCmd(),
			a.ifacesCmd(),
			a.ipCmd(),
			a.apsCmd(),
			a.selectCmd(),
			a.connectCmd(),
			a.connectedCmd(),
			a.restartCmd(),
			a.profileCmd(),
			a.historyCmd(),
			a.unitCmd(),
			a.interfacesCmd(),
		},
		Exec: func(ctx context.Context, args []string) error {
			if *version {
				fmt.Println(Version)
				return nil
			}
			return flag.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ParseAndRun(ctx, os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, errNotConnected):
		os.Exit(1)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted")
		os.Exit(130)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
