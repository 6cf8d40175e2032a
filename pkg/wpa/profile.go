// Package wpa reads, writes and switches wpa_supplicant credential profiles.
package wpa

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/renameio/v2"
)

// ProfileExt is the extension of candidate profile files.
const ProfileExt = ".conf"

var (
	// ErrInvalidSSID is returned for SSIDs that cannot name a profile file.
	ErrInvalidSSID = errors.New("invalid ssid")
	// ErrProfileNotFound is returned when no candidate profile exists for an SSID.
	ErrProfileNotFound = errors.New("profile not found")
)

// Profile is one wpa_supplicant file.
type Profile struct {
	Path   string
	Fields map[string]string
	Exists bool
}

// ReadProfile parses the file at path. A missing file is not an error; the
// returned profile has Exists=false and no fields.
func ReadProfile(path string) (*Profile, error) {
	p := &Profile{Path: path, Fields: map[string]string{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	p.Exists = true
	p.Fields = ParseProfile(data)
	return p, nil
}

// ParseProfile collects every key=value line of a wpa_supplicant file,
// including those inside network blocks. A double-quoted value runs to the
// last quote on the line, as wpa_supplicant reads it; single quotes and
// surrounding blanks are stripped. An unquoted ssid is hex encoded. The
// network block header is dropped.
func ParseProfile(data []byte) map[string]string {
	fields := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" || key == "network" {
			continue
		}
		fields[key] = parseValue(key, strings.TrimSpace(value))
	}
	return fields
}

func parseValue(key, value string) string {
	if strings.HasPrefix(value, `"`) {
		if end := strings.LastIndex(value, `"`); end > 0 {
			return value[1:end]
		}
	}
	if len(value) >= 2 && strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
		return value[1 : len(value)-1]
	}
	if key == "ssid" {
		if raw, err := hex.DecodeString(value); err == nil && len(raw) > 0 {
			return string(raw)
		}
	}
	return value
}

// SSID returns the ssid field.
func (p *Profile) SSID() string {
	if p == nil {
		return ""
	}
	return p.Fields["ssid"]
}

// Password returns the psk, or the EAP password when there is no psk.
func (p *Profile) Password() string {
	if p == nil {
		return ""
	}
	if psk, ok := p.Fields["psk"]; ok {
		return psk
	}
	return p.Fields["password"]
}

// Summary renders the fields as indented JSON with the secret masked.
func (p *Profile) Summary() string {
	out := make(map[string]string, len(p.Fields)+1)
	for k, v := range p.Fields {
		if k == "psk" || k == "password" {
			continue
		}
		out[k] = v
	}
	if pw := p.Password(); pw != "" {
		out["password"] = mask(pw)
	}
	data, _ := json.MarshalIndent(out, "", "    ")
	return string(data)
}

func mask(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}

// Store is the active profile plus the directory of candidate profiles.
type Store struct {
	ActivePath string
	Dir        string
}

func NewStore(activePath, dir string) *Store {
	return &Store{ActivePath: activePath, Dir: dir}
}

// ValidateSSID rejects names that would escape the profile directory.
func ValidateSSID(ssid string) error {
	switch {
	case ssid == "", ssid == ".", ssid == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSSID, ssid)
	case strings.ContainsAny(ssid, "/\x00"):
		return fmt.Errorf("%w: %q contains a path separator or NUL", ErrInvalidSSID, ssid)
	case len(ssid) > 32:
		return fmt.Errorf("%w: %q is longer than 32 bytes", ErrInvalidSSID, ssid)
	}
	return nil
}

// ProfilePath is the candidate file for ssid: <dir>/<ssid>.conf.
func (s *Store) ProfilePath(ssid string) (string, error) {
	if err := ValidateSSID(ssid); err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, ssid+ProfileExt), nil
}

// Read returns the candidate profile for ssid.
func (s *Store) Read(ssid string) (*Profile, error) {
	path, err := s.ProfilePath(ssid)
	if err != nil {
		return nil, err
	}
	return ReadProfile(path)
}

// Active returns the active profile.
func (s *Store) Active() (*Profile, error) {
	return ReadProfile(s.ActivePath)
}

// ActiveSSID returns the ssid named by the active profile, or "".
func (s *Store) ActiveSSID() (string, error) {
	p, err := s.Active()
	if err != nil {
		return "", err
	}
	return p.SSID(), nil
}

// List maps each candidate SSID to its file.
func (s *Store) List() (map[string]string, error) {
	return listDir(s.Dir)
}

func listDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles in %s: %w", dir, err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ProfileExt) {
			continue
		}
		ssid := strings.TrimSuffix(name, ProfileExt)
		if ssid == "" {
			continue
		}
		out[ssid] = filepath.Join(dir, name)
	}
	return out, nil
}

// Known expands globs against the candidate profiles. The result follows
// glob order, lexical within one glob, without duplicates.
func (s *Store) Known(globs []string) ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	added := make(map[string]struct{})
	for _, g := range globs {
		for _, name := range names {
			if _, ok := added[name]; ok {
				continue
			}
			if ok, err := doublestar.Match(g, name); err != nil {
				return nil, fmt.Errorf("invalid ssid glob %q: %w", g, err)
			} else if ok {
				added[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out, nil
}

// Write stores data as the candidate profile for ssid.
func (s *Store) Write(ssid string, data []byte) (string, error) {
	path, err := s.ProfilePath(ssid)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write profile %s: %w", path, err)
	}
	return path, nil
}

// Backup copies the active profile into the candidate directory so a network
// connected by hand becomes a known candidate. Without force an existing
// candidate is left alone. It reports whether a copy was made.
func (s *Store) Backup(force bool) (bool, error) {
	active, err := s.Active()
	if err != nil {
		return false, err
	}
	ssid := active.SSID()
	if !active.Exists || ssid == "" {
		return false, nil
	}
	path, err := s.ProfilePath(ssid)
	if err != nil {
		return false, err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := copyFile(s.ActivePath, path); err != nil {
		return false, fmt.Errorf("failed to back up active profile: %w", err)
	}
	return true, nil
}

// Sync copies the profiles found in repoDir into the candidate directory.
// Without force existing candidates are kept. With backup the active profile
// is backed up afterwards. It returns the copied SSIDs.
func (s *Store) Sync(repoDir string, force, backup bool) ([]string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}
	repo, err := listDir(repoDir)
	if err != nil {
		return nil, err
	}
	existing, err := s.List()
	if err != nil {
		return nil, err
	}

	var copied []string
	for ssid, src := range repo {
		if _, ok := existing[ssid]; ok && !force {
			continue
		}
		dst, err := s.ProfilePath(ssid)
		if err != nil {
			return copied, err
		}
		if err := copyFile(src, dst); err != nil {
			return copied, err
		}
		copied = append(copied, ssid)
	}
	sort.Strings(copied)

	if backup {
		if _, err := s.Backup(false); err != nil {
			return copied, err
		}
	}
	return copied, nil
}

// copyFile replaces dst atomically with the content of src.
func copyFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(dst, data, 0o600)
}
