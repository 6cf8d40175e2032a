package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

// Availability payloads published on <prefix>/availability.
const (
	Online  = "online"
	Offline = "offline"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Client publishes check results to an MQTT broker.
type Client struct {
	client    MQTT.Client
	logger    *logx.Logger
	config    config.MQTT
	connected atomic.Bool
	limiter   *RateLimiter

	mu          sync.Mutex
	lastPublish time.Time
	lastStatus  status

	// publish is replaced in tests.
	publish func(topic string, qos byte, retain bool, payload []byte) error
}

type status struct {
	Connected bool   `json:"connected"`
	Interface string `json:"interface,omitempty"`
	SSID      string `json:"ssid,omitempty"`
	Fallback  bool   `json:"fallback"`
}

// switchEvent is published when the chosen interface or SSID changes.
type switchEvent struct {
	Timestamp time.Time `json:"timestamp"`
	From      status    `json:"from"`
	To        status    `json:"to"`
	CheckID   string    `json:"check_id"`
}

func NewClient(cfg config.MQTT, logger *logx.Logger) *Client {
	c := &Client{
		logger: logger,
		config: cfg,
		limiter: &RateLimiter{
			maxMessages: 10,
			windowSize:  time.Second,
		},
	}
	c.publish = c.publishDirect
	return c
}

// Topic joins name onto the configured prefix.
func (c *Client) Topic(name string) string {
	return fmt.Sprintf("%s/%s", c.config.TopicPrefix, name)
}

// Connect establishes the connection. The client keeps reconnecting in the
// background after the first success.
func (c *Client) Connect(ctx context.Context) error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.SetWill(c.Topic("availability"), Offline, byte(c.config.QoS), true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		// ConnectRetry keeps trying in the background
		c.logger.Warn("MQTT broker not reachable yet, retrying in background",
			"broker", c.config.Broker, "port", c.config.Port)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	c.logger.Info("MQTT client connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

// Disconnect publishes the offline marker and closes the connection.
func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}
	if c.connected.Load() {
		if err := c.publish(c.Topic("availability"), byte(c.config.QoS), true, []byte(Offline)); err != nil {
			c.logger.Debug("Failed to publish offline marker", "error", err)
		}
	}
	c.client.Disconnect(250)
	c.connected.Store(false)
	c.logger.Info("MQTT client disconnected")
}

func (c *Client) onConnect(MQTT.Client) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")
	if err := c.publish(c.Topic("availability"), byte(c.config.QoS), true, []byte(Online)); err != nil {
		c.logger.Warn("Failed to publish availability", "error", err)
	}
}

func (c *Client) onConnectionLost(_ MQTT.Client, err error) {
	c.connected.Store(false)
	c.logger.Error("MQTT connection lost", "error", err)
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// LastPublish returns the time of the last successful publish.
func (c *Client) LastPublish() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPublish
}

// ObserveCheck publishes the result on <prefix>/check, the retained status on
// <prefix>/status and, when the chosen link changed, an event on
// <prefix>/switch.
func (c *Client) ObserveCheck(_ context.Context, res *pkg.CheckResult) {
	if !c.config.Enabled || !c.connected.Load() {
		return
	}

	now := status{Connected: res.Connected, Interface: res.Interface, SSID: res.SSID, Fallback: res.Fallback}
	c.mu.Lock()
	prev := c.lastStatus
	c.lastStatus = now
	c.mu.Unlock()

	if err := c.PublishJSON("check", res, c.config.Retain); err != nil {
		c.logger.Warn("Failed to publish check", "error", err)
	}
	if err := c.PublishJSON("status", now, true); err != nil {
		c.logger.Warn("Failed to publish status", "error", err)
	}
	if prev != now {
		ev := switchEvent{Timestamp: res.Started, From: prev, To: now, CheckID: res.ID}
		if err := c.PublishJSON("switch", ev, false); err != nil {
			c.logger.Warn("Failed to publish switch event", "error", err)
		}
	}
}

// PublishJSON marshals payload onto Topic(name).
func (c *Client) PublishJSON(name string, payload interface{}, retain bool) error {
	if !c.limiter.Allow() {
		c.logger.Debug("Rate limit exceeded, dropping message", "topic", c.Topic(name))
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	topic := c.Topic(name)
	if err := c.publish(topic, byte(c.config.QoS), retain, data); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()
	c.logger.Debug("MQTT message published", "topic", topic, "size", len(data))
	return nil
}

func (c *Client) publishDirect(topic string, qos byte, retain bool, payload []byte) error {
	if c.client == nil {
		return fmt.Errorf("not connected to MQTT broker")
	}
	token := c.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// RateLimiter allows maxMessages per window.
type RateLimiter struct {
	mu           sync.Mutex
	lastCheck    time.Time
	messageCount int
	maxMessages  int
	windowSize   time.Duration
}

// Allow checks if a rate limit allows publishing
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCheck) >= rl.windowSize {
		rl.messageCount = 0
		rl.lastCheck = now
	}
	if rl.messageCount < rl.maxMessages {
		rl.messageCount++
		return true
	}
	return false
}
