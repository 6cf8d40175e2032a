// Package inventory lists the network interfaces present on the host and
// matches them against rule globs.
package inventory

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/markus-lassfolk/netswitch/pkg"
)

// DefaultSysFS is where the kernel exposes per-interface attributes.
const DefaultSysFS = "/sys/class/net"

// System reads interfaces from the kernel.
type System struct {
	// SysFS overrides DefaultSysFS, mainly for tests.
	SysFS string
	// Interfaces overrides net.Interfaces.
	Interfaces func() ([]net.Interface, error)
}

// NewSystem returns an inventory backed by the running kernel.
func NewSystem() *System {
	return &System{SysFS: DefaultSysFS, Interfaces: net.Interfaces}
}

// List returns every interface except loopback, keyed by name.
func (s *System) List(ctx context.Context) (map[string]pkg.InterfaceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list := s.Interfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	out := make(map[string]pkg.InterfaceInfo, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		info := pkg.InterfaceInfo{
			Name:            iface.Name,
			HardwareAddress: iface.HardwareAddr.String(),
			Up:              iface.Flags&net.FlagUp != 0,
			Wireless:        s.isWireless(iface.Name),
		}
		if addrs, err := iface.Addrs(); err == nil {
			info.Address, info.Addresses = splitAddrs(addrs)
		}
		out[iface.Name] = info
	}
	return out, nil
}

func (s *System) isWireless(name string) bool {
	root := s.SysFS
	if root == "" {
		root = DefaultSysFS
	}
	for _, marker := range []string{"wireless", "phy80211"} {
		if _, err := os.Stat(filepath.Join(root, name, marker)); err == nil {
			return true
		}
	}
	return false
}

// splitAddrs returns the first IPv4 address and every address without its
// prefix length.
func splitAddrs(addrs []net.Addr) (string, []string) {
	var first string
	all := make([]string, 0, len(addrs))
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		if ip.IsLinkLocalUnicast() && ip.To4() == nil {
			continue
		}
		all = append(all, ip.String())
		if first == "" && ip.To4() != nil {
			first = ip.String()
		}
	}
	if len(all) == 0 {
		all = nil
	}
	return first, all
}

// Snapshot is one view of the interfaces, taken at the start of a cycle.
type Snapshot map[string]pkg.InterfaceInfo

// Match returns the interfaces whose names match the glob, case-sensitively,
// in reverse lexical order so wlan1 is tried before wlan0. An invalid glob
// matches nothing.
func (s Snapshot) Match(glob string) []pkg.InterfaceInfo {
	var out []pkg.InterfaceInfo
	for name, info := range s {
		ok, err := doublestar.Match(glob, name)
		if err != nil || !ok {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out
}

// Names returns every interface name in lexical order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wireless returns the wireless interfaces in lexical order.
func (s Snapshot) Wireless() []pkg.InterfaceInfo {
	var out []pkg.InterfaceInfo
	for _, name := range s.Names() {
		if s[name].Wireless {
			out = append(out, s[name])
		}
	}
	return out
}
