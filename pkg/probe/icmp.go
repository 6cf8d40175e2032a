package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

// ICMPPinger pings with raw or datagram ICMP sockets. An interface is
// selected by binding to it and using its IPv4 address as the source.
type ICMPPinger struct {
	privileged bool
	interval   time.Duration
	logger     *logx.Logger

	sourceFor func(iface string) (string, error)
}

func NewICMPPinger(privileged bool, logger *logx.Logger) *ICMPPinger {
	return &ICMPPinger{
		privileged: privileged,
		interval:   200 * time.Millisecond,
		logger:     logger,
		sourceFor:  interfaceIPv4,
	}
}

func (p *ICMPPinger) Loss(ctx context.Context, target, iface string, count int, timeout time.Duration) (float64, error) {
	pr, ok := p.pinger(target, iface, count, timeout)
	if !ok {
		return 1, nil
	}

	if err := pr.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return 1, ctx.Err()
		}
		return 1, fmt.Errorf("pinging host '%s' (ip %s): %w", pr.Addr(), pr.IPAddr(), err)
	}

	stats := pr.Statistics()
	if stats.PacketsSent == 0 {
		return 1, nil
	}
	return stats.PacketLoss / 100, nil
}

// pinger prepares a pinger for target. It reports false when the target or
// the interface cannot be used, which counts as total loss.
func (p *ICMPPinger) pinger(target, iface string, count int, timeout time.Duration) (*probing.Pinger, bool) {
	pr := probing.New(target)
	pr.SetNetwork("ip4")

	if err := pr.Resolve(); err != nil {
		// an unresolvable target is unreachable, not a broken probe
		p.logger.Debug("Probe target lookup failed", "target", target, "error", err)
		return nil, false
	}

	if iface != "" {
		source, err := p.sourceFor(iface)
		if err != nil {
			p.logger.Debug("No IPv4 source on interface", "iface", iface, "error", err)
			return nil, false
		}
		// the source address alone does not keep packets off the default route
		pr.Source = source
		pr.InterfaceName = iface
	}

	pr.RecordRtts = false
	pr.Interval = p.interval
	pr.Count = count
	pr.Timeout = time.Duration(count) * timeout
	pr.SetPrivileged(p.privileged)
	pr.SetLogger(nil)
	return pr, true
}

func interfaceIPv4(ifaceName string) (string, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return "", err
	}

	addresses, err := iface.Addrs()
	if err != nil {
		return "", err
	}

	for _, addr := range addresses {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet.IP.To4().String(), nil
		}
	}
	return "", errors.New("ipv4 addresses not found")
}
