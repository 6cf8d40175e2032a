package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/markus-lassfolk/netswitch/pkg/wpa"
)

func (a *app) profileCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "profile",
		ShortUsage: "netswitchctl profile <subcommand>",
		ShortHelp:  "Manage wpa_supplicant credential profiles",
		Subcommands: []*ffcli.Command{
			a.profileShowCmd(),
			a.profileListCmd(),
			a.profileCreateCmd(),
			a.profileSyncCmd(),
			a.profileBackupCmd(),
			a.profileSwitchCmd(),
		},
		Exec: func(context.Context, []string) error { return flag.ErrHelp },
	}
}

func (a *app) profileShowCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "show",
		ShortUsage: "netswitchctl profile show [ssid]",
		ShortHelp:  "Show the active profile or a candidate, password masked",
		Exec: func(_ context.Context, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			var (
				p   *wpa.Profile
				err error
			)
			if len(args) > 0 {
				p, err = a.sys.Store.Read(args[0])
			} else {
				p, err = a.sys.Store.Active()
			}
			if err != nil {
				return err
			}
			if !p.Exists {
				return fmt.Errorf("%s does not exist", p.Path)
			}
			if a.jsonOut {
				return writeJSON(stdout, map[string]string{"path": p.Path, "ssid": p.SSID(), "summary": p.Summary()})
			}
			fmt.Fprintf(stdout, "%s: %s\n", p.Path, p.Summary())
			return nil
		},
	}
}

func (a *app) profileListCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:      "list",
		ShortHelp: "List candidate profiles",
		Exec: func(context.Context, []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			profiles, err := a.sys.Store.List()
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(stdout, profiles)
			}
			ssids := make([]string, 0, len(profiles))
			for ssid := range profiles {
				ssids = append(ssids, ssid)
			}
			sort.Strings(ssids)
			active, _ := a.sys.Store.ActiveSSID()
			for _, ssid := range ssids {
				marker := " "
				if ssid == active {
					marker = "*"
				}
				fmt.Fprintf(stdout, "%s %s\t%s\n", marker, ssid, profiles[ssid])
			}
			return nil
		},
	}
}

func (a *app) profileCreateCmd() *ffcli.Command {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	var opts wpa.GenerateOptions
	fs.StringVar(&opts.SSID, "ssid", "", "network name")
	fs.StringVar(&opts.Password, "password", "", "passphrase, empty for an open network")
	fs.StringVar(&opts.Kind, "kind", wpa.KindBasic, "profile kind (basic|wpa-eap)")
	fs.StringVar(&opts.Identity, "identity", "", "EAP identity")
	fs.StringVar(&opts.Group, "group", "", "ctrl_interface group")
	fs.StringVar(&opts.Country, "country", "", "regulatory country code")
	fs.BoolVar(&opts.HashPSK, "hash", false, "store the derived PSK instead of the passphrase")
	printOnly := fs.Bool("print", false, "print the profile instead of storing it")
	return &ffcli.Command{
		Name:       "create",
		ShortUsage: "netswitchctl profile create -ssid <ssid> [-password <pass>] [-kind basic|wpa-eap]",
		ShortHelp:  "Render a candidate profile",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			if *printOnly {
				data, err := wpa.Generate(opts)
				if err != nil {
					return err
				}
				_, err = stdout.Write(data)
				return err
			}
			if err := a.setup(); err != nil {
				return err
			}
			path, err := a.sys.Store.Create(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "created %s\n", path)
			return nil
		},
	}
}

func (a *app) profileSyncCmd() *ffcli.Command {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite existing candidates")
	backup := fs.Bool("backup", true, "back up the active profile afterwards")
	return &ffcli.Command{
		Name:       "sync",
		ShortUsage: "netswitchctl profile sync [-force] <repo-dir>",
		ShortHelp:  "Copy a directory of profiles into the candidate directory",
		FlagSet:    fs,
		Exec: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("sync requires a source directory")
			}
			if err := a.setup(); err != nil {
				return err
			}
			copied, err := a.sys.Store.Sync(args[0], *force, *backup)
			if err != nil {
				return err
			}
			for _, ssid := range copied {
				fmt.Fprintf(stdout, "synced %s\n", ssid)
			}
			return nil
		},
	}
}

func (a *app) profileBackupCmd() *ffcli.Command {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing candidate")
	return &ffcli.Command{
		Name:      "backup",
		ShortHelp: "Copy the active profile into the candidate directory",
		FlagSet:   fs,
		Exec: func(context.Context, []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			copied, err := a.sys.Store.Backup(*force)
			if err != nil {
				return err
			}
			if !copied {
				fmt.Fprintln(stdout, "nothing to back up")
				return nil
			}
			ssid, _ := a.sys.Store.ActiveSSID()
			fmt.Fprintf(stdout, "backed up %s\n", ssid)
			return nil
		},
	}
}

func (a *app) profileSwitchCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "switch",
		ShortUsage: "netswitchctl profile switch <iface> <ssid>",
		ShortHelp:  "Activate a candidate profile without selection",
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("switch requires an interface and an ssid")
			}
			if err := a.setup(); err != nil {
				return err
			}
			res, err := a.sys.Switcher.Switch(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if a.jsonOut {
				out := map[string]interface{}{
					"from": res.From, "to": res.To, "noop": res.Noop, "backed_up": res.BackedUp,
					"copied": res.Copied, "restarted": res.Restarted,
				}
				if res.RestartErr != nil {
					out["restart_error"] = res.RestartErr.Error()
				}
				if err := writeJSON(stdout, out); err != nil {
					return err
				}
			} else if res.Noop {
				fmt.Fprintf(stdout, "%s already active\n", res.To)
			} else {
				fmt.Fprintf(stdout, "switched %s -> %s (restarted %t)\n", res.From, res.To, res.Restarted)
			}
			if !res.OK(a.cfg.Selection.RequireRestart) {
				return fmt.Errorf("switch to %s incomplete: %v", args[1], res.RestartErr)
			}
			return nil
		},
	}
}
