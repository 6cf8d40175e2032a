package failover

import (
	"fmt"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/ifctl"
	"github.com/markus-lassfolk/netswitch/pkg/inventory"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/probe"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
	"github.com/markus-lassfolk/netswitch/pkg/wifi"
	"github.com/markus-lassfolk/netswitch/pkg/wpa"
)

// System is the set of OS backed collaborators described by a configuration.
// Scanner, probe, profile and restart settings are read once; changing them
// needs a restart of the process.
type System struct {
	Inventory *inventory.System
	Scanner   pkg.Scanner
	Store     *wpa.Store
	Switcher  *wpa.Switcher
	Prober    *probe.Prober
	Control   *ifctl.Controller
}

// NewSystem builds the collaborators for cfg. run replaces the exec runner of
// the command based adapters and may be nil.
func NewSystem(cfg *config.Config, run utils.Runner, logger *logx.Logger) (*System, error) {
	scanner, err := wifi.NewScanner(cfg.Scanner.Backend, run, logger.With("component", "scanner"))
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	control := ifctl.New(cfg.Restart, run, logger.With("component", "ifctl"))
	store := wpa.NewStore(cfg.Profiles.Active, cfg.Profiles.Dir)
	switcher := wpa.NewSwitcher(store, control, wpa.SwitchOptions{
		LockPath: cfg.Profiles.Lock,
		Backup:   cfg.Profiles.Backup,
		Restart:  cfg.Profiles.Restart,
	}, logger.With("component", "wpa"))

	return &System{
		Inventory: inventory.NewSystem(),
		Scanner:   scanner,
		Store:     store,
		Switcher:  switcher,
		Prober:    probe.New(cfg.Probe, logger.With("component", "probe")),
		Control:   control,
	}, nil
}

// Deps returns engine dependencies backed by the system.
func (s *System) Deps(source ConfigSource, logger *logx.Logger) Deps {
	return Deps{
		Inventory: s.Inventory,
		WLAN: wifi.WLANDeps{
			Scanner:  s.Scanner,
			Profiles: s.Store,
			Switcher: s.Switcher,
		},
		Prober:  s.Prober,
		Control: s.Control,
		Config:  source,
		Logger:  logger,
	}
}

// WLAN returns a connect flow for iface outside of any engine, as used by one
// shot commands.
func (s *System) WLAN(iface string, cfg *config.Config, logger *logx.Logger) *wifi.WLAN {
	return wifi.NewWLAN(iface, wifi.WLANDeps{
		Scanner:  s.Scanner,
		Profiles: s.Store,
		Switcher: s.Switcher,
		Prober:   s.Prober,
		Logger:   logger,
	}, wifi.SelectorConfigFrom(cfg.Selection), connectOptions(cfg))
}
