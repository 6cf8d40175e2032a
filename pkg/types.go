// Package pkg holds the types and collaborator interfaces shared by the
// netswitch packages.
package pkg

import (
	"context"
	"time"
)

// InterfaceInfo describes one live network interface.
type InterfaceInfo struct {
	Name            string   `json:"name"`
	Address         string   `json:"address,omitempty"` // first IPv4, empty when unassigned
	Addresses       []string `json:"addresses,omitempty"`
	HardwareAddress string   `json:"hardware_address,omitempty"`
	Up              bool     `json:"up"`
	Wireless        bool     `json:"wireless"`
}

// HasAddress reports whether the interface has any IP assigned.
func (i InterfaceInfo) HasAddress() bool {
	return i.Address != "" || len(i.Addresses) > 0
}

// AccessPoint is one SSID observed by a single scan.
type AccessPoint struct {
	SSID      string `json:"ssid"`
	BSSID     string `json:"bssid,omitempty"`
	Quality   int    `json:"quality"` // 0-100
	SignalDBM int    `json:"signal_dbm,omitempty"`
}

// Inventory lists the interfaces present on the system.
type Inventory interface {
	List(ctx context.Context) (map[string]InterfaceInfo, error)
}

// Scanner returns the access points visible from an interface, strongest first.
type Scanner interface {
	Scan(ctx context.Context, iface string) ([]AccessPoint, error)
}

// InterfaceControl bounces an interface.
type InterfaceControl interface {
	Restart(ctx context.Context, iface string) error
}

// ConnectivityChecker answers whether the internet is reachable, optionally
// through a specific interface. An empty iface means any route.
type ConnectivityChecker interface {
	Connected(ctx context.Context, iface string) bool
}

// Attempt is one interface tried during a check cycle.
type Attempt struct {
	Rule      int    `json:"rule"`
	Interface string `json:"interface"`
	SSID      string `json:"ssid,omitempty"`
	Step      string `json:"step"`
	Connected bool   `json:"connected"`
	Online    bool   `json:"online"` // internet requirement met
}

// CheckResult is the outcome of one failover check cycle.
type CheckResult struct {
	ID        string        `json:"id"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Connected bool          `json:"connected"`
	Interface string        `json:"interface,omitempty"`
	SSID      string        `json:"ssid,omitempty"`
	Rule      int           `json:"rule"` // -1 when no rule produced the result
	Fallback  bool          `json:"fallback"`
	Attempts  []Attempt     `json:"attempts,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// CheckObserver is notified after every check cycle.
type CheckObserver interface {
	ObserveCheck(ctx context.Context, result *CheckResult)
}
