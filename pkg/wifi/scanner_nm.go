package wifi

import (
	"context"
	"fmt"

	"github.com/Wifx/gonetworkmanager/v3"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

// NMScanner asks NetworkManager over D-Bus for the access points a wireless
// device can see. The bus connection is opened on first use.
type NMScanner struct {
	logger *logx.Logger
	nm     gonetworkmanager.NetworkManager
}

func NewNMScanner(logger *logx.Logger) *NMScanner {
	return &NMScanner{logger: logger}
}

func (s *NMScanner) Scan(ctx context.Context, iface string) ([]pkg.AccessPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.nm == nil {
		nm, err := gonetworkmanager.NewNetworkManager()
		if err != nil {
			return nil, fmt.Errorf("connect to NetworkManager: %w", err)
		}
		s.nm = nm
	}

	device, err := s.nm.GetDeviceByIpIface(iface)
	if err != nil {
		return nil, fmt.Errorf("NetworkManager device %s: %w", iface, err)
	}
	wireless, ok := device.(gonetworkmanager.DeviceWireless)
	if !ok {
		wireless, err = gonetworkmanager.NewDeviceWireless(device.GetPath())
		if err != nil {
			return nil, fmt.Errorf("%s is not a wireless device: %w", iface, err)
		}
	}

	// A scan request is refused while one is already running; the cached
	// list is still fresh enough in that case.
	if err := wireless.RequestScan(); err != nil {
		s.logger.Debug("NetworkManager scan request refused", "iface", iface, "error", err)
	}

	nmAPs, err := wireless.GetAccessPoints()
	if err != nil {
		return nil, fmt.Errorf("list access points on %s: %w", iface, err)
	}

	aps := make([]pkg.AccessPoint, 0, len(nmAPs))
	for _, ap := range nmAPs {
		ssid, err := ap.GetPropertySSID()
		if err != nil {
			continue
		}
		strength, _ := ap.GetPropertyStrength()
		bssid, _ := ap.GetPropertyHWAddress()
		aps = append(aps, pkg.AccessPoint{SSID: ssid, BSSID: bssid, Quality: int(strength)})
	}

	aps = rankAccessPoints(aps)
	s.logger.Debug("NetworkManager scan completed", "iface", iface, "aps_found", len(aps))
	return aps, nil
}
