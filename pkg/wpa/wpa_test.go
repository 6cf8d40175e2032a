package wpa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

// MockControl records interface restarts.
type MockControl struct {
	Restarts []string
	Err      error
}

func (m *MockControl) Restart(_ context.Context, iface string) error {
	m.Restarts = append(m.Restarts, iface)
	return m.Err
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(filepath.Join(root, "wpa_supplicant.conf"), filepath.Join(root, "aps"))
}

func mustCreate(t *testing.T, s *Store, ssid, password string) {
	t.Helper()
	_, err := s.Create(GenerateOptions{SSID: ssid, Password: password})
	require.NoError(t, err)
}

func activate(t *testing.T, s *Store, ssid string) {
	t.Helper()
	path, err := s.ProfilePath(ssid)
	require.NoError(t, err)
	require.NoError(t, copyFile(path, s.ActivePath))
}

func TestParseProfile(t *testing.T) {
	data := `ctrl_interface=DIR=/var/run/wpa_supplicant GROUP=netdev
update_config=1
# comment=ignored
country=US

network={
  ssid="home net"
  psk='s3cretpass'
  key_mgmt=WPA-PSK
}
`
	fields := ParseProfile([]byte(data))
	assert.Equal(t, "home net", fields["ssid"])
	assert.Equal(t, "s3cretpass", fields["psk"])
	assert.Equal(t, "DIR=/var/run/wpa_supplicant GROUP=netdev", fields["ctrl_interface"])
	assert.Equal(t, "WPA-PSK", fields["key_mgmt"])
	assert.NotContains(t, fields, "network")
	assert.NotContains(t, fields, "# comment")

	p := &Profile{Fields: fields}
	assert.Equal(t, "home net", p.SSID())
	assert.Equal(t, "s3cretpass", p.Password())
}

func TestProfileSummaryMasksPassword(t *testing.T) {
	p := &Profile{Fields: map[string]string{"ssid": "home", "psk": "supersecret"}}
	summary := p.Summary()
	assert.Contains(t, summary, `"ssid": "home"`)
	assert.Contains(t, summary, `"password": "s*********t"`)
	assert.NotContains(t, summary, "supersecret")
	assert.NotContains(t, summary, "psk")
}

func TestReadMissingProfile(t *testing.T) {
	p, err := ReadProfile(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.False(t, p.Exists)
	assert.Empty(t, p.SSID())
}

func TestProfilePathRejectsBadSSID(t *testing.T) {
	s := newTestStore(t)
	for _, ssid := range []string{"", "..", "a/b", strings.Repeat("x", 33)} {
		_, err := s.ProfilePath(ssid)
		assert.ErrorIs(t, err, ErrInvalidSSID, ssid)
	}
	path, err := s.ProfilePath("cafe")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir, "cafe.conf"), path)
}

func TestKnownExpandsGlobs(t *testing.T) {
	s := newTestStore(t)
	for _, ssid := range []string{"nyu", "nyu-legacy", "home", "cafe-1"} {
		mustCreate(t, s, ssid, "password123")
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, "notes.txt"), []byte("x"), 0o644))

	got, err := s.Known([]string{"nyu*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nyu", "nyu-legacy"}, got)

	got, err = s.Known([]string{"home", "*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "cafe-1", "nyu", "nyu-legacy"}, got)

	got, err = s.Known([]string{"office"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestKnownWithoutDirectory(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Known([]string{"*"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerateKinds(t *testing.T) {
	basic, err := Generate(GenerateOptions{SSID: "home", Password: "password123", Country: "se"})
	require.NoError(t, err)
	fields := ParseProfile(basic)
	assert.Equal(t, "home", fields["ssid"])
	assert.Equal(t, "password123", fields["psk"])
	assert.Equal(t, "SE", fields["country"])
	assert.Contains(t, string(basic), "GROUP=netdev")

	open, err := Generate(GenerateOptions{SSID: "cafe"})
	require.NoError(t, err)
	assert.Equal(t, "NONE", ParseProfile(open)["key_mgmt"])

	eap, err := Generate(GenerateOptions{SSID: "nyu", Password: "pw", Kind: KindWPAEAP, Identity: "me@nyu.edu"})
	require.NoError(t, err)
	fields = ParseProfile(eap)
	assert.Equal(t, "WPA-EAP", fields["key_mgmt"])
	assert.Equal(t, "me@nyu.edu", fields["identity"])
	assert.Equal(t, "pw", (&Profile{Fields: fields}).Password())

	_, err = Generate(GenerateOptions{SSID: "x", Kind: "wep"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Generate(GenerateOptions{SSID: "nyu", Kind: KindWPAEAP})
	assert.Error(t, err)
}

func TestHashPSK(t *testing.T) {
	// wpa_passphrase test vector from IEEE 802.11i H.4.3
	psk, err := HashPSK("IEEE", "password")
	require.NoError(t, err)
	assert.Equal(t, "f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e", psk)

	_, err = HashPSK("IEEE", "short")
	assert.Error(t, err)

	out, err := Generate(GenerateOptions{SSID: "IEEE", Password: "password", HashPSK: true})
	require.NoError(t, err)
	assert.Contains(t, string(out), "psk=f42c6fc5")
}

func TestGenerateRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		ssid     string
		password string
		wantLine string
	}{
		{"plain", "home net", "password123", `ssid="home net"`},
		{"apostrophe", "Joe's", "password123", `ssid="Joe's"`},
		{"utf8", "café", "password123", `ssid="café"`},
		{"double quote", `my"net`, `pass"word1`, "ssid=6d79226e6574"},
		{"backslash", `back\slash`, `pass\word1`, "ssid=6261636b5c736c617368"},
		{"trailing quote char", "net'", "password123'", `ssid="net'"`},
		{"trailing space", "lobby ", " password123 ", `ssid="lobby "`},
		{"control char", "tab\tnet", "password123", "ssid=746162096e6574"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Generate(GenerateOptions{SSID: tt.ssid, Password: tt.password})
			require.NoError(t, err)
			assert.Contains(t, string(out), tt.wantLine)

			p := &Profile{Fields: ParseProfile(out)}
			assert.Equal(t, tt.ssid, p.SSID())
			assert.Equal(t, tt.password, p.Password())
		})
	}
}

func TestGenerateRejectsUnwritableValues(t *testing.T) {
	_, err := Generate(GenerateOptions{SSID: "home", Password: "pass\nword123"})
	assert.Error(t, err)

	_, err = Generate(GenerateOptions{SSID: "home", Password: "pässword123"})
	assert.Error(t, err)

	_, err = Generate(GenerateOptions{SSID: "nyu", Password: "pw", Kind: KindWPAEAP, Identity: "me\n@nyu.edu"})
	assert.Error(t, err)
}

func TestParseProfileHexSSID(t *testing.T) {
	fields := ParseProfile([]byte("network={\n  ssid=686f6d65\n  psk=f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e\n}\n"))
	assert.Equal(t, "home", fields["ssid"])
	assert.Equal(t, "f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e", fields["psk"])

	// hand-written unquoted names that are not hex stay as they are
	assert.Equal(t, "lobby", ParseProfile([]byte("ssid=lobby\n"))["ssid"])
}

func TestSwitchToSSIDWithQuote(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "home", "password123")
	mustCreate(t, s, `my"net`, "password123")
	activate(t, s, "home")

	sw := NewSwitcher(s, nil, SwitchOptions{LockPath: filepath.Join(t.TempDir(), "lock")}, logx.Nop())
	res, err := sw.Switch(context.Background(), "wlan0", `my"net`)
	require.NoError(t, err)
	assert.True(t, res.Copied)
	active, err := s.ActiveSSID()
	require.NoError(t, err)
	assert.Equal(t, `my"net`, active)
}

func TestSwitchToActiveIsNoop(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "home", "password123")
	activate(t, s, "home")

	control := &MockControl{}
	sw := NewSwitcher(s, control, SwitchOptions{LockPath: filepath.Join(t.TempDir(), "lock"), Backup: true, Restart: true}, logx.Nop())

	res, err := sw.Switch(context.Background(), "wlan0", "home")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.False(t, res.Copied)
	assert.True(t, res.OK(true))
	assert.Empty(t, control.Restarts)
}

func TestSwitchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "home", "password123")
	mustCreate(t, s, "X", "password456")
	activate(t, s, "home")

	control := &MockControl{}
	sw := NewSwitcher(s, control, SwitchOptions{LockPath: filepath.Join(t.TempDir(), "lock"), Backup: true, Restart: true}, logx.Nop())

	res, err := sw.Switch(context.Background(), "wlan0", "X")
	require.NoError(t, err)
	assert.Equal(t, "home", res.From)
	assert.True(t, res.Copied)
	assert.True(t, res.Restarted)
	assert.False(t, res.BackedUp, "home already has a candidate profile")
	assert.Equal(t, []string{"wlan0"}, control.Restarts)

	ssid, err := s.ActiveSSID()
	require.NoError(t, err)
	assert.Equal(t, "X", ssid)
}

func TestSwitchBacksUpUnknownActiveProfile(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "X", "password456")
	manual, err := Generate(GenerateOptions{SSID: "manual", Password: "password789"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.ActivePath, manual, 0o600))

	sw := NewSwitcher(s, nil, SwitchOptions{LockPath: filepath.Join(t.TempDir(), "lock"), Backup: true}, logx.Nop())
	res, err := sw.Switch(context.Background(), "wlan0", "X")
	require.NoError(t, err)
	assert.True(t, res.BackedUp)
	assert.False(t, res.RestartAttempted)

	p, err := s.Read("manual")
	require.NoError(t, err)
	assert.True(t, p.Exists)
	assert.Equal(t, "password789", p.Password())
}

func TestSwitchRestartFailureKeepsCopy(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "X", "password456")

	control := &MockControl{Err: errors.New("ifup: permission denied")}
	sw := NewSwitcher(s, control, SwitchOptions{LockPath: filepath.Join(t.TempDir(), "lock"), Restart: true}, logx.Nop())

	res, err := sw.Switch(context.Background(), "wlan0", "X")
	require.NoError(t, err)
	assert.True(t, res.Copied)
	assert.True(t, res.RestartAttempted)
	assert.False(t, res.Restarted)
	assert.Error(t, res.RestartErr)
	assert.True(t, res.OK(false))
	assert.False(t, res.OK(true))
}

func TestSwitchMissingCandidate(t *testing.T) {
	s := newTestStore(t)
	sw := NewSwitcher(s, nil, SwitchOptions{LockPath: filepath.Join(t.TempDir(), "lock")}, logx.Nop())

	res, err := sw.Switch(context.Background(), "wlan0", "ghost")
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.False(t, res.OK(false))
}

func TestSwitchHonoursLock(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "X", "password456")
	lockPath := filepath.Join(t.TempDir(), "lock")

	held := flock.New(lockPath)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	sw := NewSwitcher(s, nil, SwitchOptions{LockPath: lockPath, LockTimeout: 200 * time.Millisecond}, logx.Nop())
	_, err = sw.Switch(context.Background(), "wlan0", "X")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestSync(t *testing.T) {
	s := newTestStore(t)
	repo := NewStore(filepath.Join(t.TempDir(), "unused"), filepath.Join(t.TempDir(), "repo"))
	mustCreate(t, repo, "a", "password-a1")
	mustCreate(t, repo, "b", "password-b1")
	mustCreate(t, s, "a", "password-local")

	copied, err := s.Sync(repo.Dir, false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, copied)
	p, err := s.Read("a")
	require.NoError(t, err)
	assert.Equal(t, "password-local", p.Password())

	copied, err = s.Sync(repo.Dir, true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, copied)
	p, err = s.Read("a")
	require.NoError(t, err)
	assert.Equal(t, "password-a1", p.Password())
}
