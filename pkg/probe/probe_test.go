package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

// MockPinger returns scripted loss per target.
type MockPinger struct {
	Losses map[string]float64
	Err    map[string]error
	Calls  []string
	Ifaces []string
}

func (m *MockPinger) Loss(_ context.Context, target, iface string, _ int, _ time.Duration) (float64, error) {
	m.Calls = append(m.Calls, target)
	m.Ifaces = append(m.Ifaces, iface)
	if err := m.Err[target]; err != nil {
		return 1, err
	}
	return m.Losses[target], nil
}

func probeConfig(targets ...string) config.Probe {
	return config.Probe{Targets: targets, Count: 3, Threshold: 0.5, Timeout: time.Second}
}

func TestConnectedThreshold(t *testing.T) {
	tests := []struct {
		name string
		loss float64
		want bool
	}{
		{"no loss", 0.0, true},
		{"some loss", 0.3, true},
		{"at threshold", 0.5, false},
		{"heavy loss", 0.9, false},
		{"total loss", 1.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pinger := &MockPinger{Losses: map[string]float64{"8.8.8.8": tt.loss}}
			p := NewWithPinger(probeConfig("8.8.8.8"), pinger, logx.Nop())
			assert.Equal(t, tt.want, p.Connected(context.Background(), "wlan0"))
			assert.Equal(t, []string{"wlan0"}, pinger.Ifaces)
		})
	}
}

func TestToolFailureIsNotConnected(t *testing.T) {
	pinger := &MockPinger{Err: map[string]error{"8.8.8.8": fmt.Errorf("ping: %w", utils.ErrToolMissing)}}
	p := NewWithPinger(probeConfig("8.8.8.8"), pinger, logx.Nop())

	assert.NotPanics(t, func() {
		assert.False(t, p.Connected(context.Background(), ""))
	})
	_, err := p.Loss(context.Background(), "")
	assert.ErrorIs(t, err, utils.ErrToolMissing)
}

func TestLossAveragesTargetsThatRan(t *testing.T) {
	pinger := &MockPinger{
		Losses: map[string]float64{"1.1.1.1": 0.0, "8.8.8.8": 1.0},
		Err:    map[string]error{"9.9.9.9": errors.New("socket: operation not permitted")},
	}
	p := NewWithPinger(probeConfig("1.1.1.1", "8.8.8.8", "9.9.9.9"), pinger, logx.Nop())

	loss, err := p.Loss(context.Background(), "")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, loss, 1e-9)
	assert.Len(t, pinger.Calls, 3)
}

func TestNoTargets(t *testing.T) {
	p := NewWithPinger(config.Probe{}, &MockPinger{}, logx.Nop())
	_, err := p.Loss(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoTargets)
	assert.False(t, p.Connected(context.Background(), ""))
}

func TestParseLoss(t *testing.T) {
	out := `PING 8.8.8.8 (8.8.8.8) 56(84) bytes of data.

--- 8.8.8.8 ping statistics ---
3 packets transmitted, 2 received, 33.3333% packet loss, time 2003ms
`
	loss, err := ParseLoss([]byte(out))
	require.NoError(t, err)
	assert.InDelta(t, 0.333333, loss, 1e-6)

	loss, err = ParseLoss([]byte("3 packets transmitted, 0 received, 100% packet loss"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, loss)

	_, err = ParseLoss([]byte("ping: unknown host"))
	assert.ErrorIs(t, err, ErrNoLossLine)
}

func TestCommandPingerArgs(t *testing.T) {
	var got string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		got = name + " " + strings.Join(args, " ")
		return []byte("3 packets transmitted, 3 received, 0% packet loss"), nil
	}
	loss, err := NewCommandPinger(run).Loss(context.Background(), "8.8.8.8", "ppp0", 3, 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0.0, loss)
	assert.Equal(t, "ping -n -q -c 3 -W 2 -I ppp0 8.8.8.8", got)
}

func TestCommandPingerLostRepliesAreNotErrors(t *testing.T) {
	run := func(context.Context, string, ...string) ([]byte, error) {
		return []byte("3 packets transmitted, 0 received, 100% packet loss"), errors.New("exit status 1")
	}
	loss, err := NewCommandPinger(run).Loss(context.Background(), "8.8.8.8", "", 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, loss)
}

func TestCommandPingerMissingTool(t *testing.T) {
	run := func(context.Context, string, ...string) ([]byte, error) {
		return nil, fmt.Errorf("ping: %w", utils.ErrToolMissing)
	}
	_, err := NewCommandPinger(run).Loss(context.Background(), "8.8.8.8", "", 3, time.Second)
	assert.ErrorIs(t, err, utils.ErrToolMissing)
}

func TestICMPPingerBindsInterface(t *testing.T) {
	p := NewICMPPinger(false, logx.Nop())
	p.sourceFor = func(iface string) (string, error) {
		if iface == "wlan0" {
			return "192.168.50.2", nil
		}
		return "", errors.New("ipv4 addresses not found")
	}

	pr, ok := p.pinger("127.0.0.1", "wlan0", 3, time.Second)
	require.True(t, ok)
	assert.Equal(t, "wlan0", pr.InterfaceName)
	assert.Equal(t, "192.168.50.2", pr.Source)
	assert.Equal(t, 3, pr.Count)
	assert.Equal(t, 3*time.Second, pr.Timeout)

	pr, ok = p.pinger("127.0.0.1", "", 1, time.Second)
	require.True(t, ok)
	assert.Empty(t, pr.InterfaceName)
	assert.Empty(t, pr.Source)

	_, ok = p.pinger("127.0.0.1", "eth9", 1, time.Second)
	assert.False(t, ok)
}

func TestICMPPingerUnusableInterfaceIsTotalLoss(t *testing.T) {
	p := NewICMPPinger(false, logx.Nop())
	p.sourceFor = func(string) (string, error) { return "", errors.New("no such interface") }

	loss, err := p.Loss(context.Background(), "127.0.0.1", "eth9", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, loss)
}
