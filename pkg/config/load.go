package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is the on-disk encoding of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the decoder from the file extension. Unknown extensions are
// read as YAML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// Parse decodes data and applies defaults.
func Parse(data []byte, format Format) (*Config, error) {
	raw := &RawConfig{}
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse toml config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys: %v", undecoded)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse yaml config: %w", err)
		}
	}
	return ApplyDefaults(raw)
}

// Load reads and validates the configuration at path. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Loader reloads a configuration file when its modification time changes.
type Loader struct {
	path    string
	onApply func(*Config)

	mu      sync.Mutex
	loaded  bool
	modTime time.Time
	current *Config
}

// NewLoader returns a loader for path. onApply, if non-nil, runs after every
// successful load of a changed file.
func NewLoader(path string, onApply func(*Config)) *Loader {
	return &Loader{path: path, onApply: onApply}
}

// Path returns the watched file.
func (l *Loader) Path() string {
	return l.path
}

// Current returns the last applied configuration, or the defaults before the
// first load.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return Default()
	}
	return l.current
}

// Reload returns the new configuration when the file changed since the last
// call and nil when it did not. A missing file counts as unchanged once a
// configuration has been applied. A file that fails to parse is reported once
// and retried only after it changes again; the previous configuration stays
// current.
func (l *Loader) Reload() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if l.loaded {
			return nil, nil
		}
		l.loaded = true
		return l.apply(Default()), nil
	case err != nil:
		return nil, fmt.Errorf("failed to stat config %s: %w", l.path, err)
	}

	if l.loaded && info.ModTime().Equal(l.modTime) {
		return nil, nil
	}
	l.loaded = true
	l.modTime = info.ModTime()

	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	return l.apply(cfg), nil
}

func (l *Loader) apply(cfg *Config) *Config {
	l.current = cfg
	if l.onApply != nil {
		l.onApply(cfg)
	}
	return cfg
}
