package logx

import (
	"sort"
	"sync"
	"time"
)

// PerformanceLogger times the blocking steps of a check cycle (scans,
// probes, restarts, whole cycles) and reports the slow ones.
type PerformanceLogger struct {
	logger *Logger
	slow   time.Duration

	mu  sync.Mutex
	ops map[string]*OperationStats
}

// OperationStats is the running summary for one named operation.
type OperationStats struct {
	Name     string        `json:"name"`
	Count    int64         `json:"count"`
	Errors   int64         `json:"errors"`
	Total    time.Duration `json:"total"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Last     time.Duration `json:"last"`
	LastRun  time.Time     `json:"last_run"`
	InFlight int64         `json:"in_flight"`
}

// Avg returns the mean duration.
func (s OperationStats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Operation is one timed run started by StartOperation.
type Operation struct {
	name  string
	start time.Time
	pl    *PerformanceLogger
}

// NewPerformanceLogger returns a tracker that warns about operations slower
// than slow. A zero slow disables the warning.
func NewPerformanceLogger(logger *Logger, slow time.Duration) *PerformanceLogger {
	return &PerformanceLogger{
		logger: logger,
		slow:   slow,
		ops:    make(map[string]*OperationStats),
	}
}

// StartOperation begins timing name.
func (pl *PerformanceLogger) StartOperation(name string) *Operation {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	stats, ok := pl.ops[name]
	if !ok {
		stats = &OperationStats{Name: name}
		pl.ops[name] = stats
	}
	stats.InFlight++

	return &Operation{name: name, start: time.Now(), pl: pl}
}

// Complete records the result of the operation and returns its duration.
func (op *Operation) Complete(err error) time.Duration {
	d := time.Since(op.start)

	pl := op.pl
	pl.mu.Lock()
	stats := pl.ops[op.name]
	stats.InFlight--
	stats.Count++
	stats.Total += d
	stats.Last = d
	stats.LastRun = time.Now()
	if stats.Min == 0 || d < stats.Min {
		stats.Min = d
	}
	if d > stats.Max {
		stats.Max = d
	}
	if err != nil {
		stats.Errors++
	}
	pl.mu.Unlock()

	switch {
	case err != nil:
		pl.logger.Debug("Operation failed", "operation", op.name, "duration", d.String(), "error", err)
	case pl.slow > 0 && d > pl.slow:
		pl.logger.Warn("Slow operation", "operation", op.name, "duration", d.String(), "threshold", pl.slow.String())
	}
	return d
}

// Get returns a copy of the stats for name.
func (pl *PerformanceLogger) Get(name string) (OperationStats, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	stats, ok := pl.ops[name]
	if !ok {
		return OperationStats{}, false
	}
	return *stats, true
}

// Snapshot returns copies of all stats ordered by name.
func (pl *PerformanceLogger) Snapshot() []OperationStats {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	out := make([]OperationStats, 0, len(pl.ops))
	for _, s := range pl.ops {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LogSummary writes one info line per tracked operation.
func (pl *PerformanceLogger) LogSummary() {
	for _, s := range pl.Snapshot() {
		pl.logger.Info("Operation summary",
			"operation", s.Name,
			"count", s.Count,
			"errors", s.Errors,
			"avg", s.Avg().String(),
			"min", s.Min.String(),
			"max", s.Max.String(),
		)
	}
}
