package wifi

import (
	"context"
	"errors"
	"fmt"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/wpa"
)

// Step is the outcome of a connect attempt.
type Step int

const (
	// StepNoCandidates means no known profile matched the rule's globs.
	StepNoCandidates Step = iota
	// StepNoWinner means no candidate was seen often enough.
	StepNoWinner
	// StepConnected means the winner is active.
	StepConnected
	// StepFailed means the winner could not be activated and no revert was due.
	StepFailed
	// StepReverted means the winner failed and the previous network is back.
	StepReverted
	// StepRevertFailed means the winner failed and so did the revert.
	StepRevertFailed
)

func (s Step) String() string {
	switch s {
	case StepNoCandidates:
		return "no_candidates"
	case StepNoWinner:
		return "no_winner"
	case StepConnected:
		return "connected"
	case StepFailed:
		return "failed"
	case StepReverted:
		return "reverted"
	case StepRevertFailed:
		return "revert_failed"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// ProfileSource lists the known candidate profiles and the active one.
type ProfileSource interface {
	Known(globs []string) ([]string, error)
	ActiveSSID() (string, error)
}

// ProfileSwitcher activates a candidate profile.
type ProfileSwitcher interface {
	Switch(ctx context.Context, iface, ssid string) (wpa.SwitchResult, error)
}

// ConnectOptions is the success policy applied after a switch.
type ConnectOptions struct {
	// VerifyInternet requires the interface to be online after switching
	// when it was online before.
	VerifyInternet bool
	// RequireRestart treats a failed interface restart as a failed switch.
	RequireRestart bool
}

// ConnectResult describes one Connect call.
type ConnectResult struct {
	Step       Step
	SSID       string // active network when the flow ended
	Previous   string // active network before the flow
	Winner     string
	Candidates []string
	Selection  Selection
	WasOnline  bool
	Err        error
}

// Connected reports whether the interface ended on a working profile.
func (r ConnectResult) Connected() bool {
	return r.Step == StepConnected || r.Step == StepReverted
}

// WLAN owns the connect flow and failure memory of one wireless interface.
type WLAN struct {
	iface    string
	scanner  pkg.Scanner
	failures *FailureCounts
	selector *Selector
	profiles ProfileSource
	switcher ProfileSwitcher
	prober   pkg.ConnectivityChecker
	opts     ConnectOptions
	logger   *logx.Logger
}

// WLANDeps are the collaborators shared by every WLAN.
type WLANDeps struct {
	Scanner  pkg.Scanner
	Profiles ProfileSource
	Switcher ProfileSwitcher
	Prober   pkg.ConnectivityChecker
	Logger   *logx.Logger
}

func NewWLAN(iface string, deps WLANDeps, cfg SelectorConfig, opts ConnectOptions) *WLAN {
	logger := deps.Logger.With("iface", iface)
	failures := NewFailureCounts()
	return &WLAN{
		iface:    iface,
		scanner:  deps.Scanner,
		failures: failures,
		selector: NewSelector(iface, deps.Scanner, failures, cfg, logger),
		profiles: deps.Profiles,
		switcher: deps.Switcher,
		prober:   deps.Prober,
		opts:     opts,
		logger:   logger,
	}
}

func (w *WLAN) Interface() string { return w.iface }

// Failures exposes the failure memory of this interface.
func (w *WLAN) Failures() *FailureCounts { return w.failures }

// Selector returns the selector bound to this interface.
func (w *WLAN) Selector() *Selector { return w.selector }

// Reconfigure replaces the tunables and keeps the failure memory.
func (w *WLAN) Reconfigure(cfg SelectorConfig, opts ConnectOptions) {
	sel := NewSelector(w.iface, w.scanner, w.failures, cfg, w.logger)
	sel.sleep, sel.now = w.selector.sleep, w.selector.now
	w.selector = sel
	w.opts = opts
}

// Connect picks the best known network matching globs and activates it. A
// failed activation on an interface that was online is reverted to the
// previous network once.
func (w *WLAN) Connect(ctx context.Context, globs []string) ConnectResult {
	res := ConnectResult{}

	candidates, err := w.profiles.Known(globs)
	if err != nil {
		w.logger.Warn("Failed to list known profiles", "globs", globs, "error", err)
		res.Err = err
		return res
	}
	res.Candidates = candidates
	if len(candidates) == 0 {
		w.logger.Warn("No ssid conf files found matching the provided pattern", "globs", globs)
		return res
	}

	previous, err := w.profiles.ActiveSSID()
	if err != nil {
		w.logger.Warn("Failed to read active profile", "error", err)
	}
	res.Previous = previous
	res.SSID = previous
	res.WasOnline = w.prober.Connected(ctx, w.iface)

	res.Selection = w.selector.Select(ctx, NewCandidateSet(candidates...))
	if !res.Selection.Found {
		res.Step = StepNoWinner
		w.logger.Info("No ssid matches", "candidates", candidates, "seen", res.Selection.Seen)
		return res
	}
	winner := res.Selection.SSID
	res.Winner = winner

	copied, err := w.activate(ctx, winner, res.WasOnline)
	if err == nil {
		res.Step = StepConnected
		res.SSID = winner
		w.logger.Info("AP connected", "ssid", winner, "previous", previous)
		return res
	}
	res.Err = err

	// nothing to undo when the previous profile was never overwritten
	if !copied || previous == "" || previous == winner || !res.WasOnline {
		res.Step = StepFailed
		w.logger.Warn("Could not connect", "ssid", winner, "error", err)
		return res
	}

	count := w.failures.Increment(winner)
	w.logger.Warn("Could not connect, reverting",
		"ssid", winner,
		"revert_to", previous,
		"failures", count,
		"error", err)

	if _, rerr := w.activate(ctx, previous, true); rerr != nil {
		res.Step = StepRevertFailed
		res.Err = errors.Join(err, fmt.Errorf("revert to %s: %w", previous, rerr))
		w.logger.Error("Revert failed", "ssid", previous, "error", rerr)
		return res
	}
	res.Step = StepReverted
	res.SSID = previous
	w.logger.Info("AP reverted", "ssid", previous)
	return res
}

// activate switches to ssid and applies the success policy. It reports
// whether the active profile was overwritten, even when activation failed.
func (w *WLAN) activate(ctx context.Context, ssid string, wasOnline bool) (bool, error) {
	sw, err := w.switcher.Switch(ctx, w.iface, ssid)
	if err != nil {
		return sw.Copied, err
	}
	if !sw.OK(w.opts.RequireRestart) {
		if sw.RestartErr != nil {
			return sw.Copied, fmt.Errorf("restart after switch: %w", sw.RestartErr)
		}
		return sw.Copied, errors.New("profile was not copied")
	}

	active, err := w.profiles.ActiveSSID()
	if err != nil {
		return sw.Copied, fmt.Errorf("verify active profile: %w", err)
	}
	if active != ssid {
		return sw.Copied, fmt.Errorf("active profile names %q, want %q", active, ssid)
	}

	if wasOnline && w.opts.VerifyInternet && !w.prober.Connected(ctx, w.iface) {
		return sw.Copied, errors.New("no internet after switch")
	}
	return sw.Copied, nil
}
