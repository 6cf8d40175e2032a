package wifi

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

// IWScanner scans with `iw dev <iface> scan`.
type IWScanner struct {
	run    utils.Runner
	logger *logx.Logger
}

func NewIWScanner(run utils.Runner, logger *logx.Logger) *IWScanner {
	return &IWScanner{run: run, logger: logger}
}

func (s *IWScanner) Scan(ctx context.Context, iface string) ([]pkg.AccessPoint, error) {
	out, err := s.run(ctx, "iw", "dev", iface, "scan")
	if err != nil {
		return nil, fmt.Errorf("iw scan on %s failed: %w", iface, err)
	}
	aps := rankAccessPoints(ParseIWScan(out))
	s.logger.Debug("iw scan completed", "iface", iface, "aps_found", len(aps))
	return aps, nil
}

// ParseIWScan reads the BSS blocks printed by iw. Entries without a signal
// line get quality 0.
func ParseIWScan(out []byte) []pkg.AccessPoint {
	var (
		aps []pkg.AccessPoint
		cur *pkg.AccessPoint
	)
	flush := func() {
		if cur != nil {
			aps = append(aps, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "BSS ") {
			flush()
			bssid := strings.TrimPrefix(line, "BSS ")
			if i := strings.IndexAny(bssid, "( "); i >= 0 {
				bssid = bssid[:i]
			}
			cur = &pkg.AccessPoint{BSSID: bssid}
			continue
		}
		if cur == nil {
			continue
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "SSID:"):
			cur.SSID = strings.TrimSpace(strings.TrimPrefix(trimmed, "SSID:"))
		case strings.HasPrefix(trimmed, "signal:"):
			fields := strings.Fields(strings.TrimPrefix(trimmed, "signal:"))
			if len(fields) == 0 {
				continue
			}
			dbm, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				continue
			}
			cur.SignalDBM = int(math.Round(dbm))
			cur.Quality = qualityFromDBM(cur.SignalDBM)
		}
	}
	flush()
	return aps
}
