package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/failover"
	"github.com/markus-lassfolk/netswitch/pkg/inventory"
	"github.com/markus-lassfolk/netswitch/pkg/journal"
	"github.com/markus-lassfolk/netswitch/pkg/wifi"
)

var stdout io.Writer = os.Stdout

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) checkCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:      "check",
		ShortHelp: "Run one failover check cycle",
		Exec: func(ctx context.Context, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			engine := failover.New(a.sys.Deps(failover.StaticConfig{Config: a.cfg}, a.logger))
			res := engine.Check(ctx)
			if err := a.printCheck(res); err != nil {
				return err
			}
			if !res.Connected {
				return errNotConnected
			}
			return nil
		},
	}
}

func (a *app) printCheck(res *pkg.CheckResult) error {
	if a.jsonOut {
		return writeJSON(stdout, res)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tINTERFACE\tSSID\tSTEP\tCONNECTED\tONLINE")
	for _, at := range res.Attempts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%t\n", at.Rule, at.Interface, at.SSID, at.Step, at.Connected, at.Online)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	switch {
	case res.Connected && !res.Fallback:
		fmt.Fprintf(stdout, "connected via %s %s in %s\n", res.Interface, res.SSID, res.Duration)
	case res.Connected:
		fmt.Fprintf(stdout, "connected (no rule matched) in %s\n", res.Duration)
	default:
		fmt.Fprintf(stdout, "not connected after %s\n", res.Duration)
	}
	return nil
}

func (a *app) ifacesCmd() *ffcli.Command {
	fs := flag.NewFlagSet("ifaces", flag.ExitOnError)
	wirelessOnly := fs.Bool("wireless", false, "only wireless interfaces")
	return &ffcli.Command{
		Name:       "ifaces",
		ShortUsage: "netswitchctl ifaces [-wireless] [glob]",
		ShortHelp:  "List network interfaces",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			list, err := a.sys.Inventory.List(ctx)
			if err != nil {
				return err
			}
			snap := inventory.Snapshot(list)
			glob := "*"
			if len(args) > 0 {
				glob = args[0]
			}
			var out []pkg.InterfaceInfo
			for _, info := range snap.Match(glob) {
				if *wirelessOnly && !info.Wireless {
					continue
				}
				out = append(out, info)
			}
			if a.jsonOut {
				return writeJSON(stdout, out)
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tADDRESS\tMAC\tUP\tWIRELESS")
			for _, info := range out {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", info.Name, info.Address, info.HardwareAddress, info.Up, info.Wireless)
			}
			return tw.Flush()
		},
	}
}

func (a *app) ipCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "ip",
		ShortUsage: "netswitchctl ip [iface]",
		ShortHelp:  "Show the addresses of one or every interface",
		Exec: func(ctx context.Context, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			list, err := a.sys.Inventory.List(ctx)
			if err != nil {
				return err
			}
			ips := make(map[string][]string)
			for _, name := range inventory.Snapshot(list).Names() {
				if len(args) > 0 && name != args[0] {
					continue
				}
				ips[name] = list[name].Addresses
			}
			if len(args) > 0 && len(ips) == 0 {
				return fmt.Errorf("no such interface: %s", args[0])
			}
			if a.jsonOut {
				return writeJSON(stdout, ips)
			}
			for _, name := range inventory.Snapshot(list).Names() {
				if addrs, ok := ips[name]; ok {
					fmt.Fprintf(stdout, "%s\t%s\n", name, strings.Join(addrs, " "))
				}
			}
			return nil
		},
	}
}

func (a *app) apsCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "aps",
		ShortUsage: "netswitchctl aps <iface>",
		ShortHelp:  "Scan for access points, strongest first",
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("aps requires an interface")
			}
			if err := a.setup(); err != nil {
				return err
			}
			aps, err := a.sys.Scanner.Scan(ctx, args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(stdout, aps)
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SSID\tQUALITY\tSIGNAL\tBSSID")
			for _, ap := range aps {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", ap.SSID, ap.Quality, ap.SignalDBM, ap.BSSID)
			}
			return tw.Flush()
		},
	}
}

// candidates expands globs against the known profiles. No globs means every
// known profile.
func (a *app) candidates(globs []string) (wifi.CandidateSet, error) {
	if len(globs) == 0 {
		globs = []string{"*"}
	}
	known, err := a.sys.Store.Known(globs)
	if err != nil {
		return wifi.CandidateSet{}, err
	}
	return wifi.NewCandidateSet(known...), nil
}

func (a *app) selectCmd() *ffcli.Command {
	fs := flag.NewFlagSet("select", flag.ExitOnError)
	anySSID := fs.Bool("any", false, "consider every visible network, not only known profiles")
	return &ffcli.Command{
		Name:       "select",
		ShortUsage: "netswitchctl select [-any] <iface> [ssid-glob...]",
		ShortHelp:  "Pick the most stable known network without switching",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("select requires an interface")
			}
			if err := a.setup(); err != nil {
				return err
			}
			set := wifi.Any()
			if !*anySSID {
				var err error
				if set, err = a.candidates(args[1:]); err != nil {
					return err
				}
			}
			sel := a.sys.WLAN(args[0], a.cfg, a.logger).Selector().Select(ctx, set)
			if a.jsonOut {
				return writeJSON(stdout, sel)
			}
			if !sel.Found {
				fmt.Fprintf(stdout, "no winner after %d scans (seen: %s)\n", sel.Scans, strings.Join(sel.Seen, ", "))
				return errNotConnected
			}
			fmt.Fprintf(stdout, "%s (%d of %d scans)\n", sel.SSID, sel.Count, sel.Scans)
			return nil
		},
	}
}

func (a *app) connectCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "connect",
		ShortUsage: "netswitchctl connect <iface> [ssid-glob...]",
		ShortHelp:  "Select the best known network and switch to it",
		Exec: func(ctx context.Context, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("connect requires an interface")
			}
			if err := a.setup(); err != nil {
				return err
			}
			globs := args[1:]
			if len(globs) == 0 {
				globs = []string{"*"}
			}
			res := a.sys.WLAN(args[0], a.cfg, a.logger).Connect(ctx, globs)
			if a.jsonOut {
				out := map[string]interface{}{
					"step":       res.Step.String(),
					"ssid":       res.SSID,
					"previous":   res.Previous,
					"winner":     res.Winner,
					"candidates": res.Candidates,
					"selection":  res.Selection,
					"was_online": res.WasOnline,
				}
				if res.Err != nil {
					out["error"] = res.Err.Error()
				}
				if err := writeJSON(stdout, out); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(stdout, "%s: %s (previous %q, winner %q)\n", args[0], res.Step, res.Previous, res.Winner)
			}
			if res.Err != nil {
				return res.Err
			}
			if !res.Connected() {
				return errNotConnected
			}
			return nil
		},
	}
}

func (a *app) connectedCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "connected",
		ShortUsage: "netswitchctl connected [iface]",
		ShortHelp:  "Probe internet reachability; exit status 1 when offline",
		Exec: func(ctx context.Context, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			iface := ""
			if len(args) > 0 {
				iface = args[0]
			}
			loss, err := a.sys.Prober.Loss(ctx, iface)
			online := err == nil && loss < a.cfg.Probe.Threshold
			if a.jsonOut {
				out := map[string]interface{}{"interface": iface, "connected": online, "loss": loss}
				if err != nil {
					out["error"] = err.Error()
				}
				if werr := writeJSON(stdout, out); werr != nil {
					return werr
				}
			} else if err != nil {
				fmt.Fprintf(stdout, "probe failed: %v\n", err)
			} else {
				fmt.Fprintf(stdout, "loss %.0f%%, connected %t\n", loss*100, online)
			}
			if !online {
				return errNotConnected
			}
			return nil
		},
	}
}

func (a *app) restartCmd() *ffcli.Command {
	return &ffcli.Command{
		Name:       "restart",
		ShortUsage: "netswitchctl restart <iface>",
		ShortHelp:  "Bring an interface down and up again",
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("restart requires an interface")
			}
			if err := a.setup(); err != nil {
				return err
			}
			return a.sys.Control.Restart(ctx, args[0])
		},
	}
}

func (a *app) historyCmd() *ffcli.Command {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of cycles to show, 0 for all")
	return &ffcli.Command{
		Name:       "history",
		ShortUsage: "netswitchctl history [-n count]",
		ShortHelp:  "Show the most recent check cycles recorded by the daemon",
		FlagSet:    fs,
		Exec: func(ctx context.Context, _ []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			j, err := journal.OpenReadOnly(a.cfg.Journal.Path, a.logger)
			if err != nil {
				return err
			}
			defer j.Close()
			results, err := j.Recent(*limit)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(stdout, results)
			}
			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tCONNECTED\tINTERFACE\tSSID\tFALLBACK\tDURATION")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%t\t%s\n",
					r.Started.Format("2006-01-02 15:04:05"), r.Connected, r.Interface, r.SSID, r.Fallback, r.Duration)
			}
			return tw.Flush()
		},
	}
}
