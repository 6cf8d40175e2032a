package wifi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

// UbusScanner scans through OpenWrt's iwinfo ubus object.
type UbusScanner struct {
	run    utils.Runner
	logger *logx.Logger
}

// UbusAccessPoint represents a WiFi AP from ubus iwinfo scan
type UbusAccessPoint struct {
	SSID       string `json:"ssid"`
	BSSID      string `json:"bssid"`
	Channel    int    `json:"channel"`
	Signal     int    `json:"signal"` // dBm (negative)
	Quality    int    `json:"quality"`
	QualityMax int    `json:"quality_max"`
}

// UbusScanResult contains scan results from ubus
type UbusScanResult struct {
	Results []UbusAccessPoint `json:"results"`
}

func NewUbusScanner(run utils.Runner, logger *logx.Logger) *UbusScanner {
	return &UbusScanner{run: run, logger: logger}
}

// Scan executes ubus iwinfo scan
func (s *UbusScanner) Scan(ctx context.Context, iface string) ([]pkg.AccessPoint, error) {
	output, err := s.run(ctx, "ubus", "-S", "-t", "30", "call", "iwinfo", "scan",
		fmt.Sprintf(`{"device":"%s"}`, iface))
	if err != nil {
		return nil, fmt.Errorf("ubus scan failed: %w", err)
	}

	aps, err := ParseUbusScan(output)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Ubus scan completed",
		"iface", iface,
		"aps_found", len(aps))

	return aps, nil
}

// ParseUbusScan decodes the iwinfo scan reply, strongest first.
func ParseUbusScan(output []byte) ([]pkg.AccessPoint, error) {
	var result UbusScanResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse scan results: %w", err)
	}

	aps := make([]pkg.AccessPoint, 0, len(result.Results))
	for _, r := range result.Results {
		ap := pkg.AccessPoint{SSID: r.SSID, BSSID: r.BSSID, SignalDBM: r.Signal}
		if r.QualityMax > 0 {
			ap.Quality = r.Quality * 100 / r.QualityMax
		} else {
			ap.Quality = qualityFromDBM(r.Signal)
		}
		aps = append(aps, ap)
	}
	return rankAccessPoints(aps), nil
}
