package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

var lossRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)% packet loss`)

// ErrNoLossLine is returned when ping output has no packet loss summary.
var ErrNoLossLine = errors.New("no packet loss in ping output")

// CommandPinger runs the system ping binary.
type CommandPinger struct {
	run utils.Runner
}

func NewCommandPinger(run utils.Runner) *CommandPinger {
	if run == nil {
		run = utils.ExecRunner
	}
	return &CommandPinger{run: run}
}

func (p *CommandPinger) Loss(ctx context.Context, target, iface string, count int, timeout time.Duration) (float64, error) {
	wait := int(math.Ceil(timeout.Seconds()))
	if wait < 1 {
		wait = 1
	}
	args := []string{"-n", "-q", "-c", strconv.Itoa(count), "-W", strconv.Itoa(wait)}
	if iface != "" {
		args = append(args, "-I", iface)
	}
	args = append(args, target)

	out, err := p.run(ctx, "ping", args...)
	loss, parseErr := ParseLoss(out)
	if parseErr == nil {
		// ping exits 1 when replies were lost; the summary is still valid
		return loss, nil
	}
	if err != nil {
		if errors.Is(err, utils.ErrToolMissing) || utils.ExitCode(err) != 1 {
			return 1, err
		}
		return 1, nil
	}
	return 1, fmt.Errorf("ping %s: %w", target, parseErr)
}

// ParseLoss extracts the loss fraction from ping's summary line.
func ParseLoss(out []byte) (float64, error) {
	m := lossRe.FindSubmatch(out)
	if m == nil {
		return 1, ErrNoLossLine
	}
	pct, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 1, fmt.Errorf("parse packet loss %q: %w", m[1], err)
	}
	return pct / 100, nil
}
