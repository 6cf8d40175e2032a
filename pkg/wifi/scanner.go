package wifi

import (
	"errors"
	"fmt"
	"sort"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

// ErrNoBackend is returned for an unknown scanner backend name.
var ErrNoBackend = errors.New("unknown scanner backend")

// NewScanner builds the scanner selected by backend. run is used by the
// command based backends and may be nil for the default exec runner.
func NewScanner(backend string, run utils.Runner, logger *logx.Logger) (pkg.Scanner, error) {
	if run == nil {
		run = utils.ExecRunner
	}
	switch backend {
	case config.ScannerIW, "":
		return NewIWScanner(run, logger), nil
	case config.ScannerUbus:
		return NewUbusScanner(run, logger), nil
	case config.ScannerNetworkManager:
		return NewNMScanner(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoBackend, backend)
	}
}

// rankAccessPoints drops hidden networks, keeps the strongest entry per SSID
// and orders the result strongest first. Equal quality keeps scan order.
func rankAccessPoints(aps []pkg.AccessPoint) []pkg.AccessPoint {
	best := make(map[string]int, len(aps))
	out := make([]pkg.AccessPoint, 0, len(aps))
	for _, ap := range aps {
		if ap.SSID == "" {
			continue
		}
		if i, ok := best[ap.SSID]; ok {
			if ap.Quality > out[i].Quality {
				out[i] = ap
			}
			continue
		}
		best[ap.SSID] = len(out)
		out = append(out, ap)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Quality > out[j].Quality })
	return out
}

// qualityFromDBM maps -100..-50 dBm onto 0..100.
func qualityFromDBM(dbm int) int {
	q := 2 * (dbm + 100)
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}
