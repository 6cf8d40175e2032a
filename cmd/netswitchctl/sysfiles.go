package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/sysgen"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

func (a *app) unitCmd() *ffcli.Command {
	fs := flag.NewFlagSet("unit", flag.ExitOnError)
	name := fs.String("name", "netswitch", "unit name")
	binary := fs.String("bin", "", "daemon binary, default netswitchd next to this program")
	dir := fs.String("dir", sysgen.UnitDir, "unit directory")
	user := fs.String("user", "", "service user, default root")
	watchdog := fs.Duration("watchdog", time.Minute, "systemd watchdog interval, 0 disables it")
	install := fs.Bool("install", false, "write the unit and enable it instead of printing")
	start := fs.Bool("start", false, "start the unit after installing")
	return &ffcli.Command{
		Name:       "unit",
		ShortUsage: "netswitchctl unit [-install [-start]] [-name netswitch]",
		ShortHelp:  "Print or install the systemd service unit",
		FlagSet:    fs,
		Exec: func(ctx context.Context, _ []string) error {
			bin := *binary
			if bin == "" {
				self, err := os.Executable()
				if err != nil {
					return err
				}
				bin = filepath.Join(filepath.Dir(self), "netswitchd")
			}
			configPath, err := filepath.Abs(a.configPath)
			if err != nil {
				return err
			}
			opts := sysgen.UnitOptions{
				Name:        *name,
				Description: "Automatic network failover",
				ExecStart:   []string{bin, "--config", configPath},
				Watchdog:    *watchdog,
				User:        *user,
			}
			if !*install {
				data, err := sysgen.ServiceUnit(opts)
				if err != nil {
					return err
				}
				_, err = stdout.Write(data)
				return err
			}
			path, err := sysgen.Install(ctx, utils.ExecRunner, *dir, opts, *start)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "installed %s\n", path)
			return nil
		},
	}
}

func (a *app) interfacesCmd() *ffcli.Command {
	fs := flag.NewFlagSet("interfaces", flag.ExitOnError)
	output := fs.String("o", "", "write to this file instead of stdout, e.g. /etc/network/interfaces")
	all := fs.Bool("default", false, "cover eth, ppp and wlan devices instead of the configured rules")
	return &ffcli.Command{
		Name:       "interfaces",
		ShortUsage: "netswitchctl interfaces [-default] [-o path]",
		ShortHelp:  "Render /etc/network/interfaces for the configured rules",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			ifaces := sysgen.FromRules(cfg.Rules, cfg.Profiles.Active)
			if *all {
				ifaces = sysgen.DefaultInterfaces(cfg.Profiles.Active)
			}
			data, err := sysgen.Interfaces(ifaces)
			if err != nil {
				return err
			}
			if *output == "" {
				_, err = stdout.Write(data)
				return err
			}
			if err := renameio.WriteFile(*output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", *output, err)
			}
			fmt.Fprintf(stdout, "wrote %s\n", *output)
			return nil
		},
	}
}
