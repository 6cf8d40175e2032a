package ifctl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

type scriptedRunner struct {
	calls []string
	fail  map[string]error
}

func (r *scriptedRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, cmd)
	return nil, r.fail[cmd]
}

func newController(method string, r *scriptedRunner) (*Controller, *[]time.Duration) {
	c := New(config.Restart{Method: method, Settle: 3 * time.Second}, r.run, logx.Nop())
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestRestartIfupdown(t *testing.T) {
	r := &scriptedRunner{}
	c, slept := newController(config.RestartIfupdown, r)

	require.NoError(t, c.Restart(context.Background(), "wlan0"))
	assert.Equal(t, []string{"ifdown wlan0 --force", "ifup wlan0"}, r.calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, *slept)
}

func TestRestartIP(t *testing.T) {
	r := &scriptedRunner{}
	c, _ := newController(config.RestartIP, r)

	require.NoError(t, c.Restart(context.Background(), "eth0"))
	assert.Equal(t, []string{"ip link set dev eth0 down", "ip link set dev eth0 up"}, r.calls)
}

func TestRestartUpRunsWhenDownFails(t *testing.T) {
	r := &scriptedRunner{fail: map[string]error{"ifdown wlan0 --force": errors.New("exit status 1")}}
	c, _ := newController(config.RestartIfupdown, r)

	err := c.Restart(context.Background(), "wlan0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, []string{"ifdown wlan0 --force", "ifup wlan0"}, r.calls)
}

func TestRestartJoinsErrors(t *testing.T) {
	downErr := errors.New("down failed")
	upErr := errors.New("up failed")
	r := &scriptedRunner{fail: map[string]error{
		"ifdown ppp0 --force": downErr,
		"ifup ppp0":           upErr,
	}}
	c, _ := newController(config.RestartIfupdown, r)

	err := c.Restart(context.Background(), "ppp0")
	assert.ErrorIs(t, err, downErr)
	assert.ErrorIs(t, err, upErr)
}

func TestRestartAfterCancelStillBringsUp(t *testing.T) {
	r := &scriptedRunner{}
	c, _ := newController(config.RestartIfupdown, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = c.Restart(ctx, "wlan0")
	assert.Contains(t, r.calls, "ifup wlan0")
}
