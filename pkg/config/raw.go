package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RawConfig mirrors the file layout. Pointer fields distinguish "unset" from
// an explicit zero so ApplyDefaults can fill only what is missing.
type RawConfig struct {
	LogLevel         *string      `yaml:"log_level" toml:"log_level"`
	Interval         *Duration    `yaml:"interval" toml:"interval"`
	RestartMissingIP *bool        `yaml:"restart_missing_ip" toml:"restart_missing_ip"`
	Lifeline         *RawLifeline `yaml:"lifeline" toml:"lifeline"`
	Rules            []RawRule    `yaml:"rules" toml:"rules"`
	Selection        RawSelection `yaml:"selection" toml:"selection"`
	Scanner          RawScanner   `yaml:"scanner" toml:"scanner"`
	Probe            RawProbe     `yaml:"probe" toml:"probe"`
	Profiles         RawProfiles  `yaml:"profiles" toml:"profiles"`
	Restart          RawRestart   `yaml:"restart" toml:"restart"`
	Journal          RawJournal   `yaml:"journal" toml:"journal"`
	Metrics          RawMetrics   `yaml:"metrics" toml:"metrics"`
	MQTT             RawMQTT      `yaml:"mqtt" toml:"mqtt"`
}

type RawLifeline struct {
	SSID      *string `yaml:"ssid" toml:"ssid"`
	Interface *string `yaml:"interface" toml:"interface"`
}

// RawRule is one rules entry. A bare string is shorthand for an interface glob.
type RawRule struct {
	Interface        string       `yaml:"interface" toml:"interface"`
	SSIDs            SSIDSelector `yaml:"ssids" toml:"ssids"`
	RequireInternet  *bool        `yaml:"require_internet" toml:"require_internet"`
	RestartMissingIP *bool        `yaml:"restart_missing_ip" toml:"restart_missing_ip"`
}

// UnmarshalYAML accepts "wlan*" as well as a mapping.
func (r *RawRule) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*r = RawRule{}
		return node.Decode(&r.Interface)
	}
	type plain RawRule
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = RawRule(p)
	return nil
}

// UnmarshalTOML accepts a string or an inline table.
func (r *RawRule) UnmarshalTOML(v interface{}) error {
	*r = RawRule{}
	switch val := v.(type) {
	case string:
		r.Interface = val
		return nil
	case map[string]interface{}:
		for key, item := range val {
			switch key {
			case "interface":
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("rules.interface must be a string, got %T", item)
				}
				r.Interface = s
			case "ssids":
				if err := r.SSIDs.UnmarshalTOML(item); err != nil {
					return err
				}
			case "require_internet":
				b, ok := item.(bool)
				if !ok {
					return fmt.Errorf("rules.require_internet must be a boolean, got %T", item)
				}
				r.RequireInternet = &b
			case "restart_missing_ip":
				b, ok := item.(bool)
				if !ok {
					return fmt.Errorf("rules.restart_missing_ip must be a boolean, got %T", item)
				}
				r.RestartMissingIP = &b
			default:
				return fmt.Errorf("rules: unknown key %q", key)
			}
		}
		return nil
	default:
		return fmt.Errorf("rules entries must be strings or tables, got %T", v)
	}
}

type RawSelection struct {
	ScanCount      *int      `yaml:"scan_count" toml:"scan_count"`
	Stability      *float64  `yaml:"stability" toml:"stability"`
	MinCount       *int      `yaml:"min_count" toml:"min_count"`
	ScanDelay      *Duration `yaml:"scan_delay" toml:"scan_delay"`
	Timeout        *Duration `yaml:"timeout" toml:"timeout"`
	MaxFailures    *int      `yaml:"max_failures" toml:"max_failures"`
	PresenceScans  *int      `yaml:"presence_scans" toml:"presence_scans"`
	VerifyInternet *bool     `yaml:"verify_internet" toml:"verify_internet"`
	RequireRestart *bool     `yaml:"require_restart" toml:"require_restart"`
}

type RawScanner struct {
	Backend *string `yaml:"backend" toml:"backend"`
}

type RawProbe struct {
	Method     *string   `yaml:"method" toml:"method"`
	Targets    []string  `yaml:"targets" toml:"targets"`
	Count      *int      `yaml:"count" toml:"count"`
	Threshold  *float64  `yaml:"threshold" toml:"threshold"`
	Timeout    *Duration `yaml:"timeout" toml:"timeout"`
	Privileged *bool     `yaml:"privileged" toml:"privileged"`
}

type RawProfiles struct {
	Active  *string `yaml:"active" toml:"active"`
	Dir     *string `yaml:"dir" toml:"dir"`
	Lock    *string `yaml:"lock" toml:"lock"`
	Backup  *bool   `yaml:"backup" toml:"backup"`
	Restart *bool   `yaml:"restart" toml:"restart"`
}

type RawRestart struct {
	Method *string   `yaml:"method" toml:"method"`
	Settle *Duration `yaml:"settle" toml:"settle"`
}

type RawJournal struct {
	Path       *string `yaml:"path" toml:"path"`
	MaxEntries *int    `yaml:"max_entries" toml:"max_entries"`
}

type RawMetrics struct {
	Listen *string `yaml:"listen" toml:"listen"`
}

type RawMQTT struct {
	Enabled     *bool   `yaml:"enabled" toml:"enabled"`
	Broker      *string `yaml:"broker" toml:"broker"`
	Port        *int    `yaml:"port" toml:"port"`
	ClientID    *string `yaml:"client_id" toml:"client_id"`
	Username    *string `yaml:"username" toml:"username"`
	Password    *string `yaml:"password" toml:"password"`
	TopicPrefix *string `yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         *int    `yaml:"qos" toml:"qos"`
	Retain      *bool   `yaml:"retain" toml:"retain"`
}

// Duration decodes "10s" style strings from both YAML and TOML.
type Duration struct {
	time.Duration
}

// D is shorthand for building a *Duration in code and tests.
func D(d time.Duration) *Duration {
	return &Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
