// Package probe checks internet reachability with ICMP echo, optionally
// through a specific interface.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

// ErrNoTargets is returned when a prober has nothing to ping.
var ErrNoTargets = errors.New("no probe targets configured")

// Pinger sends count echo requests to target and returns the fraction lost,
// 0..1. An empty iface means the default route. Loss, including total loss,
// is not an error; an error means the probe could not be run at all.
type Pinger interface {
	Loss(ctx context.Context, target, iface string, count int, timeout time.Duration) (float64, error)
}

// Prober decides whether the internet is reachable.
type Prober struct {
	cfg    config.Probe
	pinger Pinger
	logger *logx.Logger
}

// New returns a prober using the pinger selected by cfg.Method.
func New(cfg config.Probe, logger *logx.Logger) *Prober {
	var pinger Pinger
	switch cfg.Method {
	case config.ProbeCommand:
		pinger = NewCommandPinger(nil)
	default:
		pinger = NewICMPPinger(cfg.Privileged, logger)
	}
	return NewWithPinger(cfg, pinger, logger)
}

// NewWithPinger returns a prober that uses pinger.
func NewWithPinger(cfg config.Probe, pinger Pinger, logger *logx.Logger) *Prober {
	if cfg.Count < 1 {
		cfg.Count = config.DefaultProbeCount
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = config.DefaultProbeThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultProbeTimeout
	}
	return &Prober{cfg: cfg, pinger: pinger, logger: logger}
}

// Loss pings every target and returns the mean loss over the targets that
// could be probed. It fails only when no target could be probed.
func (p *Prober) Loss(ctx context.Context, iface string) (float64, error) {
	if len(p.cfg.Targets) == 0 {
		return 1, ErrNoTargets
	}

	var (
		sum  float64
		ran  int
		errs []error
	)
	for _, target := range p.cfg.Targets {
		loss, err := p.pinger.Loss(ctx, target, iface, p.cfg.Count, p.cfg.Timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		sum += clamp(loss)
		ran++
	}
	if ran == 0 {
		return 1, errors.Join(errs...)
	}
	return sum / float64(ran), nil
}

// Connected reports whether loss is strictly below the threshold. A probe
// that cannot run counts as not connected.
func (p *Prober) Connected(ctx context.Context, iface string) bool {
	start := time.Now()
	loss, err := p.Loss(ctx, iface)
	if err != nil {
		p.logger.Error("Connectivity probe failed", "iface", iface, "error", err)
		return false
	}
	connected := loss < p.cfg.Threshold
	p.logger.Debug("Connectivity probe",
		"iface", iface,
		"loss", loss,
		"threshold", p.cfg.Threshold,
		"connected", connected,
		"duration", time.Since(start))
	return connected
}

func clamp(loss float64) float64 {
	switch {
	case loss < 0:
		return 0
	case loss > 1:
		return 1
	default:
		return loss
	}
}
