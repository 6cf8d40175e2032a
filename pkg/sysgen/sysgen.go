// Package sysgen renders the system files netswitch runs with: a systemd
// service unit and an /etc/network/interfaces file.
package sysgen

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/renameio/v2"

	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/utils"
)

// UnitDir is where Install writes service units.
const UnitDir = "/etc/systemd/system"

// UnitOptions describes the service unit.
type UnitOptions struct {
	Name        string
	Description string
	ExecStart   []string
	RestartSec  time.Duration
	Watchdog    time.Duration // 0 disables WatchdogSec
	User        string
}

var funcs = func() template.FuncMap {
	m := sprig.TxtFuncMap()
	m["argv"] = quoteArgs
	m["seconds"] = func(d time.Duration) int { return int(d.Seconds()) }
	return m
}()

var unitTemplate = template.Must(template.New("unit").Funcs(funcs).Parse(
	`[Unit]
Description={{ .Description | default .Name }}
Wants=network-online.target
After=network-online.target
StartLimitIntervalSec=0

[Service]
Type=notify
ExecStart={{ argv .ExecStart }}
ExecReload=/bin/kill -HUP $MAINPID
Restart=always
RestartSec={{ seconds .RestartSec | default 10 }}
{{- if .Watchdog }}
WatchdogSec={{ seconds .Watchdog }}
{{- end }}
User={{ .User | default "root" }}

[Install]
WantedBy=multi-user.target
`))

// ServiceUnit renders the unit file.
func ServiceUnit(opts UnitOptions) ([]byte, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("unit name is required")
	}
	if len(opts.ExecStart) == 0 {
		return nil, fmt.Errorf("exec start command is required")
	}
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("failed to render unit: %w", err)
	}
	return buf.Bytes(), nil
}

// UnitPath returns the location of the named unit inside dir.
func UnitPath(dir, name string) string {
	return filepath.Join(dir, name+".service")
}

// Install writes the unit into dir, reloads systemd and enables the unit.
// start also starts it.
func Install(ctx context.Context, run utils.Runner, dir string, opts UnitOptions, start bool) (string, error) {
	data, err := ServiceUnit(opts)
	if err != nil {
		return "", err
	}
	path := UnitPath(dir, opts.Name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write unit: %w", err)
	}

	steps := [][]string{{"daemon-reload"}, {"enable", opts.Name}}
	if start {
		steps = append(steps, []string{"restart", opts.Name})
	}
	for _, args := range steps {
		if out, err := run(ctx, "systemctl", args...); err != nil {
			return path, fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		}
	}
	return path, nil
}

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_@+=:,./-]+$`)

// quoteArgs joins argv for an Exec line, double-quoting where systemd needs
// it.
func quoteArgs(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if safeArg.MatchString(a) {
			parts[i] = a
			continue
		}
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", "$$", "%", "%%")
		parts[i] = `"` + r.Replace(a) + `"`
	}
	return strings.Join(parts, " ")
}

// Option is one "key value" line of an iface stanza.
type Option struct {
	Key   string
	Value string
}

// Iface is one stanza of /etc/network/interfaces.
type Iface struct {
	Name    string
	Method  string
	Hotplug bool
	Options []Option
}

var interfacesTemplate = template.Must(template.New("interfaces").Funcs(funcs).Parse(
	`source-directory /etc/network/interfaces.d

auto lo
iface lo inet loopback
{{ range . }}
{{ if .Hotplug }}allow-hotplug{{ else }}auto{{ end }} {{ .Name }}
iface {{ .Name }} inet {{ .Method | default "manual" }}
{{- range .Options }}
{{ .Key }} {{ .Value }}
{{- end }}
{{ end -}}
`))

// Interfaces renders ifaces after the loopback stanza.
func Interfaces(ifaces []Iface) ([]byte, error) {
	var buf bytes.Buffer
	if err := interfacesTemplate.Execute(&buf, ifaces); err != nil {
		return nil, fmt.Errorf("failed to render interfaces: %w", err)
	}
	return buf.Bytes(), nil
}

// wildcardCount is how many numbered devices a glob family expands to.
const wildcardCount = 2

// Family returns the stanza for one device of a known family: eth, wlan or
// ppp. wpaConf is used by wlan devices.
func Family(name, wpaConf string) (Iface, bool) {
	switch {
	case strings.HasPrefix(name, "eth"):
		return Iface{Name: name, Method: "manual"}, true
	case strings.HasPrefix(name, "wlan"):
		return Iface{Name: name, Method: "manual", Hotplug: true,
			Options: []Option{{Key: "wpa-roam", Value: wpaConf}}}, true
	case strings.HasPrefix(name, "ppp"):
		return Iface{Name: name, Method: "wvdial", Hotplug: true,
			Options: []Option{{Key: "post-up", Value: fmt.Sprintf("echo \"cellular (%s) is online\"", name)}}}, true
	}
	return Iface{}, false
}

var globFamily = regexp.MustCompile(`^([A-Za-z]+)([0-9]*)(\*?)$`)

// FromRules expands the interface globs of rules into stanzas, in rule
// order without duplicates. A family glob such as wlan* becomes wlan0 and
// wlan1. Globs of unknown families are skipped.
func FromRules(rules []config.Rule, wpaConf string) []Iface {
	var (
		out  []Iface
		seen = make(map[string]bool)
	)
	add := func(name string) {
		if seen[name] {
			return
		}
		if ifc, ok := Family(name, wpaConf); ok {
			seen[name] = true
			out = append(out, ifc)
		}
	}
	for _, r := range rules {
		m := globFamily.FindStringSubmatch(r.Interface)
		if m == nil {
			continue
		}
		family, index, star := m[1], m[2], m[3]
		switch {
		case star == "":
			add(family + index)
		case index == "":
			for i := 0; i < wildcardCount; i++ {
				add(fmt.Sprintf("%s%d", family, i))
			}
		}
	}
	return out
}

// DefaultInterfaces covers eth, ppp and wlan devices.
func DefaultInterfaces(wpaConf string) []Iface {
	return FromRules([]config.Rule{{Interface: "eth*"}, {Interface: "ppp*"}, {Interface: "wlan*"}}, wpaConf)
}
