// Package failover runs the priority ordered check cycle that keeps the
// device online.
package failover

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/inventory"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/wifi"
)

// StepWired is recorded for interfaces that need no credential logic.
const StepWired = "wired"

// ConfigSource provides the configuration for each cycle. Reload returns nil
// when nothing changed.
type ConfigSource interface {
	Reload() (*config.Config, error)
	Current() *config.Config
}

// StaticConfig is a ConfigSource that never changes.
type StaticConfig struct {
	Config *config.Config
}

func (s StaticConfig) Reload() (*config.Config, error) { return nil, nil }

func (s StaticConfig) Current() *config.Config { return s.Config }

// ObserverFunc adapts a function to pkg.CheckObserver.
type ObserverFunc func(ctx context.Context, result *pkg.CheckResult)

func (f ObserverFunc) ObserveCheck(ctx context.Context, result *pkg.CheckResult) { f(ctx, result) }

// Deps are the collaborators of the engine.
type Deps struct {
	Inventory pkg.Inventory
	// WLAN is used for every wireless interface. Its Prober and Logger
	// default to the engine's.
	WLAN      wifi.WLANDeps
	Prober    pkg.ConnectivityChecker
	Control   pkg.InterfaceControl
	Config    ConfigSource
	Observers []pkg.CheckObserver
	Logger    *logx.Logger
}

// Engine evaluates the interface rules in priority order and stops at the
// first interface that is connected and verified.
type Engine struct {
	inventory pkg.Inventory
	prober    pkg.ConnectivityChecker
	control   pkg.InterfaceControl
	source    ConfigSource
	registry  *wifi.Registry
	logger    *logx.Logger
	perf      *logx.PerformanceLogger
	wake      chan struct{}

	mu        sync.RWMutex
	cfg       *config.Config
	state     State
	last      *pkg.CheckResult
	observers []pkg.CheckObserver

	now   func() time.Time
	newID func() string
}

func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logx.Nop()
	}
	source := deps.Config
	if source == nil {
		source = StaticConfig{Config: config.Default()}
	}
	cfg := source.Current()
	if cfg == nil {
		cfg = config.Default()
	}

	wlanDeps := deps.WLAN
	if wlanDeps.Prober == nil {
		wlanDeps.Prober = deps.Prober
	}
	if wlanDeps.Logger == nil {
		wlanDeps.Logger = logger
	}

	e := &Engine{
		inventory: deps.Inventory,
		prober:    deps.Prober,
		control:   deps.Control,
		source:    source,
		logger:    logger,
		perf:      logx.NewPerformanceLogger(logger, cfg.Interval),
		wake:      make(chan struct{}, 1),
		cfg:       cfg,
		observers: append([]pkg.CheckObserver(nil), deps.Observers...),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	e.registry = wifi.NewRegistry(func(iface string) *wifi.WLAN {
		c := e.Config()
		return wifi.NewWLAN(iface, wlanDeps, wifi.SelectorConfigFrom(c.Selection), connectOptions(c))
	})
	return e
}

func connectOptions(c *config.Config) wifi.ConnectOptions {
	return wifi.ConnectOptions{
		VerifyInternet: c.Selection.VerifyInternet,
		RequireRestart: c.Selection.RequireRestart,
	}
}

// Registry exposes the per-interface Wi-Fi controllers.
func (e *Engine) Registry() *wifi.Registry { return e.registry }

// Performance exposes the operation timings.
func (e *Engine) Performance() *logx.PerformanceLogger { return e.perf }

// Config returns the configuration used by the current or next cycle.
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Last returns the result of the most recent cycle, or nil.
func (e *Engine) Last() *pkg.CheckResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// AddObserver registers o for every following cycle.
func (e *Engine) AddObserver(o pkg.CheckObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Wake returns a channel that ends the current wait between cycles early.
func (e *Engine) Wake() chan<- struct{} { return e.wake }

func (e *Engine) setState(to State, reason string, data map[string]interface{}) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()
	if from != to {
		e.logger.LogStateChange("failover", from.String(), to.String(), reason, data)
	}
}

// refresh applies a changed configuration. A failed reload keeps the
// previous one.
func (e *Engine) refresh() *config.Config {
	cfg, err := e.source.Reload()
	if err != nil {
		e.logger.Error("Failed to reload configuration, keeping previous", "error", err)
	}
	if cfg == nil {
		return e.Config()
	}

	e.mu.Lock()
	prev := e.cfg
	e.cfg = cfg
	e.mu.Unlock()
	if fixed := startupSections(prev, cfg); len(fixed) > 0 {
		e.logger.Warn("Changed settings take effect after a restart", "sections", fixed)
	}
	e.registry.Reconfigure(wifi.SelectorConfigFrom(cfg.Selection), connectOptions(cfg))
	e.logger.Info("Configuration applied",
		"rules", len(cfg.Rules),
		"interval", cfg.Interval.String(),
		"lifeline", cfg.Lifeline.SSID)
	return cfg
}

// startupSections lists the sections that differ between a and b but are
// only read when the adapters are built.
func startupSections(a, b *config.Config) []string {
	var out []string
	if a.Scanner != b.Scanner {
		out = append(out, "scanner")
	}
	if a.Probe.Method != b.Probe.Method || a.Probe.Count != b.Probe.Count ||
		a.Probe.Threshold != b.Probe.Threshold || a.Probe.Timeout != b.Probe.Timeout ||
		a.Probe.Privileged != b.Probe.Privileged || !slices.Equal(a.Probe.Targets, b.Probe.Targets) {
		out = append(out, "probe")
	}
	if a.Profiles != b.Profiles {
		out = append(out, "profiles")
	}
	if a.Restart != b.Restart {
		out = append(out, "restart")
	}
	return out
}

// Check runs one cycle. It returns true in Connected when some interface was
// connected and verified, or when the final probe without interface binding
// succeeds.
func (e *Engine) Check(ctx context.Context) *pkg.CheckResult {
	op := e.perf.StartOperation("check")
	res := &pkg.CheckResult{ID: e.newID(), Started: e.now(), Rule: -1}

	cfg := e.refresh()
	e.setState(StateScanningInterfaces, "cycle started", map[string]interface{}{"check_id": res.ID})

	list, err := e.listInterfaces(ctx)
	if err != nil {
		e.logger.Error("Failed to list interfaces", "error", err)
		res.Error = err.Error()
	}
	snapshot := inventory.Snapshot(list)

rules:
	for i, rule := range cfg.Rules {
		if ctx.Err() != nil {
			break
		}
		matches := snapshot.Match(rule.Interface)
		if len(matches) == 0 {
			continue
		}
		e.setState(StateTryingRule, "rule matched", map[string]interface{}{
			"rule":       i,
			"pattern":    rule.Interface,
			"interfaces": names(matches),
		})

		for _, iface := range matches {
			if ctx.Err() != nil {
				break rules
			}
			att := e.tryInterface(ctx, i, rule, iface)
			res.Attempts = append(res.Attempts, att)
			if att.Connected && att.Online {
				res.Connected = true
				res.Interface = att.Interface
				res.SSID = att.SSID
				res.Rule = i
				break rules
			}
		}
	}

	if err := ctx.Err(); err != nil {
		// an interrupted cycle is neither probed nor reported
		res.Duration = e.now().Sub(res.Started)
		res.Error = err.Error()
		op.Complete(err)
		e.logger.Info("Check interrupted",
			"check_id", res.ID,
			"attempts", len(res.Attempts),
			"duration", res.Duration.String())
		e.setState(StateIdle, "cycle interrupted", nil)
		return res
	}

	if res.Connected {
		e.setState(StateConnected, "interface verified", map[string]interface{}{
			"interface": res.Interface,
			"ssid":      res.SSID,
			"rule":      res.Rule,
		})
	} else {
		e.setState(StateExhausted, "no rule connected", map[string]interface{}{"attempts": len(res.Attempts)})
		res.Fallback = true
		res.Connected = e.prober.Connected(ctx, "")
	}

	res.Duration = e.now().Sub(res.Started)
	var opErr error
	if !res.Connected {
		opErr = errors.New("not connected")
	}
	op.Complete(opErr)

	e.logger.Info("Check completed",
		"check_id", res.ID,
		"connected", res.Connected,
		"interface", res.Interface,
		"ssid", res.SSID,
		"fallback", res.Fallback,
		"duration", res.Duration.String())

	e.mu.Lock()
	e.last = res
	observers := append([]pkg.CheckObserver(nil), e.observers...)
	e.mu.Unlock()
	for _, o := range observers {
		o.ObserveCheck(ctx, res)
	}

	e.setState(StateIdle, "cycle finished", nil)
	return res
}

func (e *Engine) listInterfaces(ctx context.Context) (map[string]pkg.InterfaceInfo, error) {
	op := e.perf.StartOperation("inventory")
	list, err := e.inventory.List(ctx)
	op.Complete(err)
	return list, err
}

func (e *Engine) tryInterface(ctx context.Context, idx int, rule config.Rule, iface pkg.InterfaceInfo) pkg.Attempt {
	att := pkg.Attempt{Rule: idx, Interface: iface.Name}

	if rule.RestartMissingIP && !iface.HasAddress() && e.control != nil {
		e.logger.Info("Interface has no address, restarting", "iface", iface.Name)
		op := e.perf.StartOperation("restart")
		err := e.control.Restart(ctx, iface.Name)
		op.Complete(err)
		if err != nil {
			e.logger.Warn("Interface restart failed", "iface", iface.Name, "error", err)
		}
	}

	e.setState(StateConnectingInterface, "trying interface", map[string]interface{}{
		"iface":    iface.Name,
		"wireless": isWireless(iface),
	})

	if !isWireless(iface) {
		att.Step = StepWired
		att.Connected = true
	} else {
		op := e.perf.StartOperation("wifi_connect")
		cr := e.registry.Get(iface.Name).Connect(ctx, rule.SSIDs.Globs())
		op.Complete(cr.Err)
		att.Step = cr.Step.String()
		att.SSID = cr.SSID
		att.Connected = cr.Connected()
		if cr.Previous != "" && cr.SSID != cr.Previous && att.Connected {
			e.logger.LogSwitch(cr.Previous, cr.SSID, "stable candidate", map[string]interface{}{
				"iface": iface.Name,
				"rule":  idx,
			})
		}
	}
	if !att.Connected {
		e.logger.Debug("Interface not connected", "iface", iface.Name, "step", att.Step)
		return att
	}

	if !rule.RequireInternet {
		att.Online = true
		return att
	}
	e.setState(StateVerifying, "probing interface", map[string]interface{}{"iface": iface.Name})
	op := e.perf.StartOperation("probe")
	att.Online = e.prober.Connected(ctx, iface.Name)
	op.Complete(nil)
	if !att.Online {
		e.logger.Info("Interface connected but offline", "iface", iface.Name, "ssid", att.SSID)
	}
	return att
}

// Run checks in a loop until ctx is done. The wait between cycles ends early
// on a wake-up.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Failover loop started", "interval", e.Config().Interval.String())
	for {
		e.Check(ctx)
		if ctx.Err() != nil {
			break
		}

		t := time.NewTimer(e.Config().Interval)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-e.wake:
			t.Stop()
			e.logger.Debug("Woken before interval elapsed")
		case <-t.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	e.perf.LogSummary()
	e.logger.Info("Failover loop stopped")
	return nil
}

// isWireless trusts the inventory and falls back to the conventional name.
func isWireless(iface pkg.InterfaceInfo) bool {
	return iface.Wireless || strings.HasPrefix(iface.Name, "wlan")
}

func names(ifaces []pkg.InterfaceInfo) []string {
	out := make([]string, len(ifaces))
	for i, iface := range ifaces {
		out[i] = iface.Name
	}
	return out
}
