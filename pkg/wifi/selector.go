package wifi

import (
	"context"
	"sort"
	"time"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

// CandidateSet is the set of SSIDs a selection may pick from. The "any" set
// accepts every observed SSID.
type CandidateSet struct {
	any   bool
	ssids []string
	index map[string]struct{}
}

// Any returns the unrestricted candidate set.
func Any() CandidateSet {
	return CandidateSet{any: true}
}

// NewCandidateSet returns a restricted set. Duplicates are dropped and order
// is kept.
func NewCandidateSet(ssids ...string) CandidateSet {
	c := CandidateSet{index: make(map[string]struct{}, len(ssids))}
	for _, s := range ssids {
		if _, ok := c.index[s]; ok {
			continue
		}
		c.index[s] = struct{}{}
		c.ssids = append(c.ssids, s)
	}
	return c
}

func (c CandidateSet) IsAny() bool { return c.any }

// Len returns the number of restricted candidates, or -1 for the any set.
func (c CandidateSet) Len() int {
	if c.any {
		return -1
	}
	return len(c.ssids)
}

func (c CandidateSet) Contains(ssid string) bool {
	if c.any {
		return true
	}
	_, ok := c.index[ssid]
	return ok
}

func (c CandidateSet) List() []string {
	return append([]string(nil), c.ssids...)
}

// SelectorConfig tunes the statistical selection.
type SelectorConfig struct {
	ScanCount     int           // top observations to collect
	Stability     float64       // fraction of ScanCount a winner needs
	MinCount      int           // absolute override of the derived threshold
	ScanDelay     time.Duration // pause between scans
	Timeout       time.Duration // bound on the whole sampling phase
	MaxFailures   int           // failed switches before an SSID is ignored
	PresenceScans int           // scans for the single candidate check
}

// SelectorConfigFrom maps the selection section of the configuration.
func SelectorConfigFrom(s config.Selection) SelectorConfig {
	return SelectorConfig{
		ScanCount:     s.ScanCount,
		Stability:     s.Stability,
		MinCount:      s.MinCount,
		ScanDelay:     s.ScanDelay,
		Timeout:       s.Timeout,
		MaxFailures:   s.MaxFailures,
		PresenceScans: s.PresenceScans,
	}
}

// DefaultSelectorConfig matches the configuration defaults.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfigFrom(config.Default().Selection)
}

// Threshold is the number of top observations a winner needs.
func (c SelectorConfig) Threshold() int {
	return config.Selection{ScanCount: c.ScanCount, Stability: c.Stability, MinCount: c.MinCount}.Threshold()
}

// Selection is the outcome of one Select call.
type Selection struct {
	SSID  string   `json:"ssid,omitempty"`
	Found bool     `json:"found"`
	Count int      `json:"count"` // top observations of the winner or best loser
	Scans int      `json:"scans"`
	Seen  []string `json:"seen,omitempty"`
}

// Selector picks the most stable SSID visible from one interface.
type Selector struct {
	iface    string
	scanner  pkg.Scanner
	failures *FailureCounts
	cfg      SelectorConfig
	logger   *logx.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewSelector(iface string, scanner pkg.Scanner, failures *FailureCounts, cfg SelectorConfig, logger *logx.Logger) *Selector {
	if failures == nil {
		failures = NewFailureCounts()
	}
	if cfg.ScanCount < 1 {
		cfg.ScanCount = config.DefaultScanCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultSelectTimeout
	}
	if cfg.PresenceScans < 1 {
		cfg.PresenceScans = config.DefaultPresenceScans
	}
	return &Selector{
		iface:    iface,
		scanner:  scanner,
		failures: failures,
		cfg:      cfg,
		logger:   logger,
		sleep:    utils.Sleep,
		now:      time.Now,
	}
}

// Config returns the tunables in effect.
func (s *Selector) Config() SelectorConfig { return s.cfg }

// Select returns the winning SSID among candidates, or Found=false.
// Scans still in flight when Timeout expires are cancelled.
func (s *Selector) Select(ctx context.Context, candidates CandidateSet) Selection {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	switch candidates.Len() {
	case 0:
		return Selection{}
	case 1:
		return s.presence(ctx, candidates.List()[0])
	}
	if c := candidates.Len(); c > 0 && c < 3 {
		s.logger.Info("Checking for networks", "iface", s.iface, "ssids", candidates.List())
	}
	return s.sample(ctx, candidates)
}

// presence scans a few times and stops at the first scan reporting ssid.
func (s *Selector) presence(ctx context.Context, ssid string) Selection {
	sel := Selection{}
	if s.failures.Excluded(ssid, s.cfg.MaxFailures) {
		s.logger.Debug("Single candidate excluded by failures", "iface", s.iface, "ssid", ssid,
			"failures", s.failures.Get(ssid))
		return sel
	}
	s.logger.Info("Checking for network", "iface", s.iface, "ssid", ssid)

	for i := 0; i < s.cfg.PresenceScans; i++ {
		if i > 0 && s.sleep(ctx, s.cfg.ScanDelay) != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		sel.Scans++
		for _, ap := range s.scan(ctx) {
			if ap.SSID == ssid {
				sel.SSID, sel.Found, sel.Count = ssid, true, 1
				sel.Seen = []string{ssid}
				return sel
			}
		}
	}
	return sel
}

type tally struct {
	order  []string
	counts map[string]int
}

func (t *tally) add(ssid string) {
	if _, ok := t.counts[ssid]; !ok {
		t.order = append(t.order, ssid)
	}
	t.counts[ssid]++
}

// best returns the most frequent entry. Ties go to the entry that was added
// first.
func (t *tally) best() (string, int) {
	var (
		ssid  string
		count int
	)
	for _, s := range t.order {
		if t.counts[s] > count {
			ssid, count = s, t.counts[s]
		}
	}
	return ssid, count
}

func (s *Selector) sample(ctx context.Context, candidates CandidateSet) Selection {
	var (
		start     = s.now()
		top       = &tally{counts: make(map[string]int)}
		seen      = make(map[string]struct{})
		observed  int
		scans     int
		threshold = s.cfg.Threshold()
	)

	for observed < s.cfg.ScanCount {
		if ctx.Err() != nil {
			break
		}
		aps := s.scan(ctx)
		scans++

		var trusted []string
		for _, ap := range aps {
			if !candidates.Contains(ap.SSID) || s.failures.Excluded(ap.SSID, s.cfg.MaxFailures) {
				continue
			}
			trusted = append(trusted, ap.SSID)
		}
		s.logger.Debug("Selection scan", "iface", s.iface, "scan", scans, "trusted", trusted, "all", len(aps))

		for _, ssid := range trusted {
			seen[ssid] = struct{}{}
		}
		if len(trusted) > 0 {
			top.add(trusted[0])
			observed++
		}

		if observed >= s.cfg.ScanCount {
			break
		}
		if err := s.sleep(ctx, s.cfg.ScanDelay); err != nil {
			break
		}
		if s.now().Sub(start) >= s.cfg.Timeout {
			s.logger.Debug("Selection timed out", "iface", s.iface, "observed", observed, "scans", scans)
			break
		}
	}

	sel := Selection{Scans: scans, Seen: sortedKeys(seen)}
	ssid, count := top.best()
	sel.Count = count
	if ssid == "" {
		return sel
	}
	if count < threshold {
		s.logger.Debug("AP was seen but not strong enough", "iface", s.iface, "ssid", ssid,
			"count", count, "threshold", threshold)
		return sel
	}
	sel.SSID, sel.Found = ssid, true
	return sel
}

// scan never fails: errors are logged and count as an empty scan.
func (s *Selector) scan(ctx context.Context) []pkg.AccessPoint {
	aps, err := s.scanner.Scan(ctx, s.iface)
	if err != nil {
		s.logger.Warn("Scan failed", "iface", s.iface, "error", err)
		return nil
	}
	return aps
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
