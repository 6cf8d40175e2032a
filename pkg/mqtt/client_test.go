package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

type message struct {
	Topic   string
	Retain  bool
	Payload []byte
}

type MockBroker struct {
	Messages []message
	Err      error
}

func (m *MockBroker) publish(topic string, _ byte, retain bool, payload []byte) error {
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, message{Topic: topic, Retain: retain, Payload: payload})
	return nil
}

func (m *MockBroker) topics() []string {
	out := make([]string, len(m.Messages))
	for i, msg := range m.Messages {
		out[i] = msg.Topic
	}
	return out
}

func testClient(broker *MockBroker) *Client {
	cfg := config.Default().MQTT
	cfg.Enabled = true
	c := NewClient(cfg, logx.Nop())
	c.publish = broker.publish
	c.connected.Store(true)
	return c
}

func TestObserveCheckPublishes(t *testing.T) {
	broker := &MockBroker{}
	c := testClient(broker)

	res := &pkg.CheckResult{ID: "c1", Started: time.Unix(1700000000, 0), Connected: true, Interface: "wlan0", SSID: "home"}
	c.ObserveCheck(context.Background(), res)

	assert.Equal(t, []string{"netswitch/check", "netswitch/status", "netswitch/switch"}, broker.topics())
	assert.True(t, broker.Messages[1].Retain)

	var got pkg.CheckResult
	require.NoError(t, json.Unmarshal(broker.Messages[0].Payload, &got))
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "home", got.SSID)

	var ev switchEvent
	require.NoError(t, json.Unmarshal(broker.Messages[2].Payload, &ev))
	assert.False(t, ev.From.Connected)
	assert.Equal(t, "wlan0", ev.To.Interface)
	assert.False(t, c.LastPublish().IsZero())
}

func TestSwitchEventOnlyOnChange(t *testing.T) {
	broker := &MockBroker{}
	c := testClient(broker)
	res := &pkg.CheckResult{ID: "c1", Connected: true, Interface: "eth0"}

	c.ObserveCheck(context.Background(), res)
	broker.Messages = nil
	c.ObserveCheck(context.Background(), res)
	assert.Equal(t, []string{"netswitch/check", "netswitch/status"}, broker.topics())
}

func TestObserveCheckSkippedWhenDisconnected(t *testing.T) {
	broker := &MockBroker{}
	c := testClient(broker)
	c.connected.Store(false)

	c.ObserveCheck(context.Background(), &pkg.CheckResult{Connected: true})
	assert.Empty(t, broker.Messages)
}

func TestPublishErrorIsReturned(t *testing.T) {
	broker := &MockBroker{Err: errors.New("broker gone")}
	c := testClient(broker)
	assert.Error(t, c.PublishJSON("status", map[string]bool{"ok": true}, true))
}

func TestDisabledConnectIsNoop(t *testing.T) {
	c := NewClient(config.Default().MQTT, logx.Nop())
	require.NoError(t, c.Connect(context.Background()))
	assert.False(t, c.IsConnected())
	c.Disconnect()
}

func TestRateLimiter(t *testing.T) {
	rl := &RateLimiter{maxMessages: 2, windowSize: time.Hour}
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}
