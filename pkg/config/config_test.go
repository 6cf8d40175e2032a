package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log_level: debug
interval: 15s
lifeline:
  ssid: s0nycL1f3l1ne
rules:
  - interface: "wlan*"
    ssids: [nyu, nyu-legacy]
  - "eth*"
  - interface: "ppp*"
    require_internet: false
  - interface: "wlan*"
    ssids: "cafe-*"
  - interface: "wlan1"
    ssids: home
selection:
  scan_count: 6
  stability: 0.6
  scan_delay: 250ms
probe:
  method: command
  targets: [1.1.1.1, 8.8.8.8]
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.Interval)
	require.Len(t, cfg.Rules, 6)

	lifeline := cfg.Rules[0]
	assert.True(t, lifeline.Lifeline)
	assert.Equal(t, "wlan*", lifeline.Interface)
	assert.Equal(t, SingleSSID("s0nycL1f3l1ne"), lifeline.SSIDs)

	assert.Equal(t, ListSSID("nyu", "nyu-legacy"), cfg.Rules[1].SSIDs)
	assert.True(t, cfg.Rules[1].RequireInternet)

	assert.Equal(t, "eth*", cfg.Rules[2].Interface)
	assert.Equal(t, SelectorAny, cfg.Rules[2].SSIDs.Kind)

	assert.False(t, cfg.Rules[3].RequireInternet)
	assert.Equal(t, PatternSSID("cafe-*"), cfg.Rules[4].SSIDs)
	assert.Equal(t, SingleSSID("home"), cfg.Rules[5].SSIDs)

	assert.Equal(t, 6, cfg.Selection.ScanCount)
	assert.Equal(t, 4, cfg.Selection.Threshold())
	assert.Equal(t, 250*time.Millisecond, cfg.Selection.ScanDelay)
	assert.Equal(t, DefaultSelectTimeout, cfg.Selection.Timeout)

	assert.Equal(t, ProbeCommand, cfg.Probe.Method)
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, cfg.Probe.Targets)
	assert.Equal(t, DefaultProbeCount, cfg.Probe.Count)
}

func TestParseTOML(t *testing.T) {
	data := `
log_level = "warn"
interval = "20s"

[[rules]]
interface = "wlan*"
ssids = ["a", "b*"]

[[rules]]
interface = "eth0"
require_internet = false

[selection]
min_count = 2

[restart]
method = "ip"
settle = "1s"
`
	cfg, err := Parse([]byte(data), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 20*time.Second, cfg.Interval)
	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, ListSSID("a", "b*"), cfg.Rules[0].SSIDs)
	assert.False(t, cfg.Rules[1].RequireInternet)
	assert.Equal(t, 2, cfg.Selection.Threshold())
	assert.Equal(t, RestartIP, cfg.Restart.Method)
	assert.Equal(t, time.Second, cfg.Restart.Settle)
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	require.Len(t, cfg.Rules, 3)
	for _, r := range cfg.Rules {
		assert.True(t, r.RequireInternet)
		assert.False(t, r.RestartMissingIP)
		assert.Equal(t, []string{"*"}, r.SSIDs.Globs())
	}
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, 3, cfg.Selection.Threshold())
	assert.True(t, cfg.Selection.VerifyInternet)
	assert.False(t, cfg.Selection.RequireRestart)
	assert.Equal(t, []string{DefaultProbeTarget}, cfg.Probe.Targets)
	assert.Equal(t, DefaultScannerBackend, cfg.Scanner.Backend)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestApplyDefaultsIsPure(t *testing.T) {
	raw := &RawConfig{Interval: D(5 * time.Second)}
	a, err := ApplyDefaults(raw)
	require.NoError(t, err)
	b, err := ApplyDefaults(raw)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Nil(t, raw.Rules)
}

func TestGlobalRestartMissingIPInherited(t *testing.T) {
	off := false
	raw := &RawConfig{
		RestartMissingIP: boolPtr(true),
		Rules: []RawRule{
			{Interface: "wlan*"},
			{Interface: "eth*", RestartMissingIP: &off},
		},
	}
	cfg, err := ApplyDefaults(raw)
	require.NoError(t, err)
	assert.True(t, cfg.Rules[0].RestartMissingIP)
	assert.False(t, cfg.Rules[1].RestartMissingIP)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad interface glob", "rules: [{interface: \"wlan[\"}]"},
		{"bad ssid glob", "rules: [{interface: wlan0, ssids: \"x[\"}]"},
		{"bad duration", "interval: soon"},
		{"short interval", "interval: 10ms"},
		{"stability out of range", "selection: {stability: 1.5}"},
		{"unknown backend", "scanner: {backend: airport}"},
		{"unknown probe method", "probe: {method: carrier-pigeon}"},
		{"unknown restart method", "restart: {method: reboot}"},
		{"unknown key", "colour: blue"},
		{"ssids map", "rules: [{interface: wlan0, ssids: {a: b}}]"},
		{"mqtt bad port", "mqtt: {enabled: true, port: 0}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), FormatYAML)
			assert.Error(t, err)
		})
	}
}

func TestSelectorFromString(t *testing.T) {
	assert.Equal(t, SelectorAny, FromString("").Kind)
	assert.Equal(t, SelectorAny, FromString("*").Kind)
	assert.Equal(t, SelectorSingle, FromString("home").Kind)
	assert.Equal(t, SelectorPattern, FromString("home-?").Kind)
	assert.Equal(t, SelectorSingle, fromList([]string{"only"}).Kind)
	assert.Equal(t, []string{"*"}, SSIDSelector{}.Globs())
}

func TestSingleSSIDMatchesOnlyItself(t *testing.T) {
	sel := SingleSSID(`Guest*[5G]{x}\`)
	globs := sel.Globs()
	require.Len(t, globs, 1)
	assert.True(t, doublestar.ValidatePattern(globs[0]))

	ok, err := doublestar.Match(globs[0], `Guest*[5G]{x}\`)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = doublestar.Match(globs[0], "Guest-home5x")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"cafe-*"}, PatternSSID("cafe-*").Globs())
}

func TestLifelineWithGlobCharacters(t *testing.T) {
	cfg, err := Parse([]byte("lifeline:\n  ssid: \"rescue[1]\"\n"), FormatYAML)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Rules)
	assert.Equal(t, []string{`rescue\[1\]`}, cfg.Rules[0].SSIDs.Globs())
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		sel  Selection
		want int
	}{
		{Selection{ScanCount: 5, Stability: 0.5}, 3},
		{Selection{ScanCount: 5, Stability: 0.6}, 3},
		{Selection{ScanCount: 5, Stability: 1}, 5},
		{Selection{ScanCount: 1, Stability: 0.01}, 1},
		{Selection{ScanCount: 5, Stability: 0.5, MinCount: 5}, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.sel.Threshold(), "%+v", tt.sel)
	}
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatTOML, FormatFor("/etc/netswitch/netswitch.TOML"))
	assert.Equal(t, FormatYAML, FormatFor("/etc/netswitch/netswitch.yml"))
	assert.Equal(t, FormatYAML, FormatFor("netswitch"))
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoaderReloadOnlyOnMTimeChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netswitch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval: 10s\n"), 0o644))

	applied := 0
	loader := NewLoader(path, func(*Config) { applied++ })

	cfg, err := loader.Reload()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 1, applied)

	cfg, err = loader.Reload()
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.Equal(t, 1, applied)

	require.NoError(t, os.WriteFile(path, []byte("interval: 30s\n"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	cfg, err = loader.Reload()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 2, applied)
	assert.Equal(t, cfg, loader.Current())
}

func TestLoaderKeepsLastGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netswitch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval: 12s\n"), 0o644))

	loader := NewLoader(path, nil)
	_, err := loader.Reload()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("interval: [\n"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	_, err = loader.Reload()
	assert.Error(t, err)
	assert.Equal(t, 12*time.Second, loader.Current().Interval)

	// the broken file is not re-read until it changes again
	cfg, err := loader.Reload()
	assert.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"), nil)

	cfg, err := loader.Reload()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	cfg, err = loader.Reload()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func boolPtr(b bool) *bool { return &b }
