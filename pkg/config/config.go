// Package config loads and normalizes the netswitch configuration file.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Default values
const (
	DefaultLogLevel         = "info"
	DefaultInterval         = 10 * time.Second
	DefaultLifelineIface    = "wlan*"
	DefaultScanCount        = 5
	DefaultStability        = 0.5
	DefaultScanDelay        = time.Second
	DefaultSelectTimeout    = 30 * time.Second
	DefaultMaxFailures      = 3
	DefaultPresenceScans    = 3
	DefaultScannerBackend   = ScannerIW
	DefaultProbeMethod      = ProbeICMP
	DefaultProbeTarget      = "8.8.8.8"
	DefaultProbeCount       = 3
	DefaultProbeThreshold   = 0.5
	DefaultProbeTimeout     = 2 * time.Second
	DefaultActiveProfile    = "/etc/wpa_supplicant/wpa_supplicant.conf"
	DefaultProfileDir       = "/etc/wpa_supplicant/aps"
	DefaultLockPath         = "/run/netswitch.lock"
	DefaultRestartMethod    = RestartIfupdown
	DefaultRestartSettle    = 3 * time.Second
	DefaultJournalPath      = "/var/lib/netswitch/journal.db"
	DefaultJournalMax       = 1000
	DefaultMQTTBroker       = "localhost"
	DefaultMQTTPort         = 1883
	DefaultMQTTClientID     = "netswitch"
	DefaultMQTTTopicPrefix  = "netswitch"
	DefaultMQTTQoS          = 1
	DefaultConfigPath       = "/etc/netswitch/netswitch.yaml"
	defaultMaxScanCount     = 1000
	defaultMaxProbeCount    = 100
	defaultMinCheckInterval = time.Second
)

// Scanner backends
const (
	ScannerIW             = "iw"
	ScannerUbus           = "ubus"
	ScannerNetworkManager = "networkmanager"
)

// Probe methods
const (
	ProbeICMP    = "icmp"
	ProbeCommand = "command"
)

// Restart methods
const (
	RestartIfupdown = "ifupdown"
	RestartIP       = "ip"
)

// Config is the validated, defaulted configuration. It is immutable for the
// duration of a check cycle.
type Config struct {
	LogLevel         string
	Interval         time.Duration
	RestartMissingIP bool
	Lifeline         Lifeline
	Rules            []Rule
	Selection        Selection
	Scanner          Scanner
	Probe            Probe
	Profiles         Profiles
	Restart          Restart
	Journal          Journal
	Metrics          Metrics
	MQTT             MQTT
}

// Rule is one priority entry. Rules are evaluated top to bottom.
type Rule struct {
	Interface        string
	SSIDs            SSIDSelector
	RequireInternet  bool
	RestartMissingIP bool
	Lifeline         bool
}

// Lifeline names an emergency network tried before every other rule.
type Lifeline struct {
	SSID      string
	Interface string
}

// Selection tunes the SSID selector and the connect flow around it.
type Selection struct {
	ScanCount      int
	Stability      float64
	MinCount       int
	ScanDelay      time.Duration
	Timeout        time.Duration
	MaxFailures    int
	PresenceScans  int
	VerifyInternet bool
	RequireRestart bool
}

// Threshold is the number of top observations a winner needs.
func (s Selection) Threshold() int {
	if s.MinCount > 0 {
		return s.MinCount
	}
	// 5*0.6 is 3.0000000000000004 in float64
	n := int(math.Ceil(float64(s.ScanCount)*s.Stability - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

type Scanner struct {
	Backend string
}

type Probe struct {
	Method     string
	Targets    []string
	Count      int
	Threshold  float64
	Timeout    time.Duration
	Privileged bool
}

type Profiles struct {
	Active  string
	Dir     string
	Lock    string
	Backup  bool
	Restart bool
}

type Restart struct {
	Method string
	Settle time.Duration
}

type Journal struct {
	Path       string
	MaxEntries int
}

type Metrics struct {
	Listen string
}

type MQTT struct {
	Enabled     bool
	Broker      string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
	Retain      bool
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg, err := ApplyDefaults(&RawConfig{})
	if err != nil {
		// the zero raw config only takes defaults
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}

// ApplyDefaults turns a decoded file into a validated Config. It has no side
// effects and does not touch the filesystem.
func ApplyDefaults(raw *RawConfig) (*Config, error) {
	if raw == nil {
		raw = &RawConfig{}
	}
	c := &Config{
		LogLevel:         strOr(raw.LogLevel, DefaultLogLevel),
		Interval:         durOr(raw.Interval, DefaultInterval),
		RestartMissingIP: boolOr(raw.RestartMissingIP, false),
	}

	if raw.Lifeline != nil && strings.TrimSpace(strOr(raw.Lifeline.SSID, "")) != "" {
		c.Lifeline = Lifeline{
			SSID:      strings.TrimSpace(*raw.Lifeline.SSID),
			Interface: strOr(raw.Lifeline.Interface, DefaultLifelineIface),
		}
		c.Rules = append(c.Rules, Rule{
			Interface:        c.Lifeline.Interface,
			SSIDs:            SingleSSID(c.Lifeline.SSID),
			RequireInternet:  true,
			RestartMissingIP: c.RestartMissingIP,
			Lifeline:         true,
		})
	}

	rawRules := raw.Rules
	if len(rawRules) == 0 {
		rawRules = defaultRules()
	}
	for _, r := range rawRules {
		rule := Rule{
			Interface:        strings.TrimSpace(r.Interface),
			SSIDs:            r.SSIDs,
			RequireInternet:  boolOr(r.RequireInternet, true),
			RestartMissingIP: boolOr(r.RestartMissingIP, c.RestartMissingIP),
		}
		if rule.SSIDs.IsZero() {
			rule.SSIDs = AnySSID()
		}
		c.Rules = append(c.Rules, rule)
	}

	sel := raw.Selection
	c.Selection = Selection{
		ScanCount:      intOr(sel.ScanCount, DefaultScanCount),
		Stability:      floatOr(sel.Stability, DefaultStability),
		MinCount:       intOr(sel.MinCount, 0),
		ScanDelay:      durOr(sel.ScanDelay, DefaultScanDelay),
		Timeout:        durOr(sel.Timeout, DefaultSelectTimeout),
		MaxFailures:    intOr(sel.MaxFailures, DefaultMaxFailures),
		PresenceScans:  intOr(sel.PresenceScans, DefaultPresenceScans),
		VerifyInternet: boolOr(sel.VerifyInternet, true),
		RequireRestart: boolOr(sel.RequireRestart, false),
	}

	c.Scanner = Scanner{Backend: strings.ToLower(strOr(raw.Scanner.Backend, DefaultScannerBackend))}

	targets := raw.Probe.Targets
	if len(targets) == 0 {
		targets = []string{DefaultProbeTarget}
	}
	c.Probe = Probe{
		Method:     strings.ToLower(strOr(raw.Probe.Method, DefaultProbeMethod)),
		Targets:    append([]string(nil), targets...),
		Count:      intOr(raw.Probe.Count, DefaultProbeCount),
		Threshold:  floatOr(raw.Probe.Threshold, DefaultProbeThreshold),
		Timeout:    durOr(raw.Probe.Timeout, DefaultProbeTimeout),
		Privileged: boolOr(raw.Probe.Privileged, false),
	}

	c.Profiles = Profiles{
		Active:  strOr(raw.Profiles.Active, DefaultActiveProfile),
		Dir:     strOr(raw.Profiles.Dir, DefaultProfileDir),
		Lock:    strOr(raw.Profiles.Lock, DefaultLockPath),
		Backup:  boolOr(raw.Profiles.Backup, true),
		Restart: boolOr(raw.Profiles.Restart, true),
	}

	c.Restart = Restart{
		Method: strings.ToLower(strOr(raw.Restart.Method, DefaultRestartMethod)),
		Settle: durOr(raw.Restart.Settle, DefaultRestartSettle),
	}

	c.Journal = Journal{
		Path:       strOr(raw.Journal.Path, DefaultJournalPath),
		MaxEntries: intOr(raw.Journal.MaxEntries, DefaultJournalMax),
	}

	c.Metrics = Metrics{Listen: strOr(raw.Metrics.Listen, "")}

	c.MQTT = MQTT{
		Enabled:     boolOr(raw.MQTT.Enabled, false),
		Broker:      strOr(raw.MQTT.Broker, DefaultMQTTBroker),
		Port:        intOr(raw.MQTT.Port, DefaultMQTTPort),
		ClientID:    strOr(raw.MQTT.ClientID, DefaultMQTTClientID),
		Username:    strOr(raw.MQTT.Username, ""),
		Password:    strOr(raw.MQTT.Password, ""),
		TopicPrefix: strings.TrimSuffix(strOr(raw.MQTT.TopicPrefix, DefaultMQTTTopicPrefix), "/"),
		QoS:         intOr(raw.MQTT.QoS, DefaultMQTTQoS),
		Retain:      boolOr(raw.MQTT.Retain, false),
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return c, nil
}

func defaultRules() []RawRule {
	return []RawRule{
		{Interface: "eth*"},
		{Interface: "wlan*"},
		{Interface: "ppp*"},
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("log_level %q is not one of trace, debug, info, warn, error", c.LogLevel)
	}
	if c.Interval < defaultMinCheckInterval {
		return fmt.Errorf("interval must be at least %s", defaultMinCheckInterval)
	}

	for i, r := range c.Rules {
		if r.Interface == "" {
			return fmt.Errorf("rule %d: interface is required", i)
		}
		if !doublestar.ValidatePattern(r.Interface) {
			return fmt.Errorf("rule %d: invalid interface glob %q", i, r.Interface)
		}
		for _, g := range r.SSIDs.Globs() {
			if !doublestar.ValidatePattern(g) {
				return fmt.Errorf("rule %d: invalid ssid glob %q", i, g)
			}
		}
	}

	s := c.Selection
	if s.ScanCount < 1 || s.ScanCount > defaultMaxScanCount {
		return fmt.Errorf("selection.scan_count must be between 1 and %d", defaultMaxScanCount)
	}
	if s.Stability <= 0 || s.Stability > 1 {
		return fmt.Errorf("selection.stability must be in (0, 1]")
	}
	if s.MinCount < 0 {
		return fmt.Errorf("selection.min_count must not be negative")
	}
	if s.ScanDelay < 0 {
		return fmt.Errorf("selection.scan_delay must not be negative")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("selection.timeout must be positive")
	}
	if s.MaxFailures < 1 {
		return fmt.Errorf("selection.max_failures must be at least 1")
	}
	if s.PresenceScans < 1 {
		return fmt.Errorf("selection.presence_scans must be at least 1")
	}

	if !oneOf(c.Scanner.Backend, ScannerIW, ScannerUbus, ScannerNetworkManager) {
		return fmt.Errorf("scanner.backend %q is not one of iw, ubus, networkmanager", c.Scanner.Backend)
	}

	p := c.Probe
	if !oneOf(p.Method, ProbeICMP, ProbeCommand) {
		return fmt.Errorf("probe.method %q is not one of icmp, command", p.Method)
	}
	if p.Count < 1 || p.Count > defaultMaxProbeCount {
		return fmt.Errorf("probe.count must be between 1 and %d", defaultMaxProbeCount)
	}
	if p.Threshold <= 0 || p.Threshold > 1 {
		return fmt.Errorf("probe.threshold must be in (0, 1]")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive")
	}
	for _, t := range p.Targets {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("probe.targets must not contain empty entries")
		}
	}

	if c.Profiles.Active == "" || c.Profiles.Dir == "" || c.Profiles.Lock == "" {
		return fmt.Errorf("profiles.active, profiles.dir and profiles.lock are required")
	}

	if !oneOf(c.Restart.Method, RestartIfupdown, RestartIP) {
		return fmt.Errorf("restart.method %q is not one of ifupdown, ip", c.Restart.Method)
	}
	if c.Restart.Settle < 0 {
		return fmt.Errorf("restart.settle must not be negative")
	}

	if c.Journal.MaxEntries < 0 {
		return fmt.Errorf("journal.max_entries must not be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	return nil
}

func isValidLogLevel(level string) bool {
	return oneOf(strings.ToLower(level), "trace", "debug", "info", "warn", "warning", "error")
}

func oneOf(v string, valid ...string) bool {
	for _, candidate := range valid {
		if v == candidate {
			return true
		}
	}
	return false
}

func strOr(p *string, def string) string {
	if p == nil || strings.TrimSpace(*p) == "" {
		return def
	}
	return strings.TrimSpace(*p)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func durOr(p *Duration, def time.Duration) time.Duration {
	if p == nil {
		return def
	}
	return p.Duration
}
