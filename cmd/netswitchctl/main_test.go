package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/journal"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netswitch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInterfacesFromRules(t *testing.T) {
	out := captureStdout(t)
	a := &app{configPath: writeConfig(t, `
rules:
  - interface: "eth0"
  - interface: "wlan*"
profiles:
  active: /etc/wpa.conf
`)}
	cmd := a.interfacesCmd()
	require.NoError(t, cmd.FlagSet.Parse(nil))
	require.NoError(t, cmd.Exec(context.Background(), nil))

	assert.Contains(t, out.String(), "auto eth0\niface eth0 inet manual\n")
	assert.Contains(t, out.String(), "allow-hotplug wlan1\niface wlan1 inet manual\nwpa-roam /etc/wpa.conf\n")
	assert.NotContains(t, out.String(), "ppp0")
}

func TestProfileCreatePrint(t *testing.T) {
	out := captureStdout(t)
	a := &app{}
	cmd := a.profileCreateCmd()
	require.NoError(t, cmd.FlagSet.Parse([]string{"-ssid", "cafe", "-password", "espresso", "-print"}))
	require.NoError(t, cmd.Exec(context.Background(), nil))

	assert.Contains(t, out.String(), `ssid="cafe"`)
	assert.Contains(t, out.String(), `psk="espresso"`)
}

func TestUnitPrint(t *testing.T) {
	out := captureStdout(t)
	a := &app{configPath: "/etc/netswitch/netswitch.yaml"}
	cmd := a.unitCmd()
	require.NoError(t, cmd.FlagSet.Parse([]string{"-bin", "/usr/bin/netswitchd", "-watchdog", "0"}))
	require.NoError(t, cmd.Exec(context.Background(), nil))

	assert.Contains(t, out.String(), "ExecStart=/usr/bin/netswitchd --config /etc/netswitch/netswitch.yaml\n")
	assert.NotContains(t, out.String(), "WatchdogSec")
}

func TestPrintCheck(t *testing.T) {
	out := captureStdout(t)
	a := &app{}
	res := &pkg.CheckResult{
		Connected: true,
		Interface: "wlan1",
		SSID:      "home",
		Duration:  1500 * time.Millisecond,
		Attempts: []pkg.Attempt{
			{Rule: 0, Interface: "wlan1", SSID: "home", Step: "connected", Connected: true, Online: true},
		},
	}
	require.NoError(t, a.printCheck(res))
	assert.Contains(t, out.String(), "connected via wlan1 home in 1.5s\n")

	out.Reset()
	a.jsonOut = true
	require.NoError(t, a.printCheck(res))
	assert.Contains(t, out.String(), `"interface": "wlan1"`)
}

func TestHistoryWhileDaemonJournalOpen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	w, err := journal.Open(dbPath, 10, logx.Nop())
	require.NoError(t, err)
	defer w.Close()
	for i := 1; i <= 2; i++ {
		require.NoError(t, w.Append(&pkg.CheckResult{
			ID:        fmt.Sprintf("check-%d", i),
			Started:   time.Date(2026, 1, 2, 3, 4, i, 0, time.UTC),
			Connected: true,
			Interface: fmt.Sprintf("eth%d", i),
		}))
	}

	out := captureStdout(t)
	a := &app{configPath: writeConfig(t, fmt.Sprintf(`
journal:
  path: %s
profiles:
  active: %s
  dir: %s
  lock: %s
`, dbPath, filepath.Join(dir, "wpa.conf"), filepath.Join(dir, "aps"), filepath.Join(dir, "lock")))}
	cmd := a.historyCmd()
	require.NoError(t, cmd.FlagSet.Parse([]string{"-n", "1"}))

	start := time.Now()
	require.NoError(t, cmd.Exec(context.Background(), nil))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, out.String(), "2026-01-02 03:04:02")
	assert.Contains(t, out.String(), "eth2")
	assert.NotContains(t, out.String(), "eth1")
}
