package wpa

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/Masterminds/sprig/v3"
	"golang.org/x/crypto/pbkdf2"
)

// Profile kinds understood by Generate.
const (
	KindBasic  = "basic"
	KindWPAEAP = "wpa-eap"
)

// ErrUnknownKind is returned by Generate for an unsupported profile kind.
var ErrUnknownKind = errors.New("unknown wpa config kind")

// GenerateOptions describes a profile to render.
type GenerateOptions struct {
	SSID     string
	Password string
	Kind     string // basic (default) or wpa-eap
	Identity string // wpa-eap only
	Group    string // ctrl_interface group, default netdev
	Country  string // default US
	HashPSK  bool   // store the derived key instead of the passphrase
	Extra    map[string]string
}

type networkLine struct {
	Key    string
	Value  string
	Quoted bool
}

// ssidLine writes ssid quoted when wpa_supplicant can read it back verbatim
// and hex encoded otherwise.
func ssidLine(ssid string) networkLine {
	if plainString(ssid) {
		return networkLine{"ssid", ssid, true}
	}
	return networkLine{"ssid", hex.EncodeToString([]byte(ssid)), false}
}

func plainString(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if r == '"' || r == '\\' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// wpaQuote quotes a value the way wpa_supplicant reads it: everything between
// the first and the last double quote, no escapes.
func wpaQuote(s string) string {
	return `"` + s + `"`
}

// checkQuoted rejects values a quoted string cannot hold.
func checkQuoted(lines []networkLine) error {
	for _, l := range lines {
		if !l.Quoted {
			continue
		}
		if strings.ContainsAny(l.Value, "\r\n\x00") {
			return fmt.Errorf("%s must not contain line breaks or NUL", l.Key)
		}
	}
	return nil
}

var profileTemplate = template.Must(template.New("wpa_supplicant").Funcs(sprig.TxtFuncMap()).Funcs(template.FuncMap{"wpaquote": wpaQuote}).Parse(
	`ctrl_interface=DIR=/var/run/wpa_supplicant GROUP={{ .Group | default "netdev" }}
update_config=1
country={{ .Country | default "US" | upper }}

network={
{{- range .Network }}
  {{ .Key }}={{ if .Quoted }}{{ .Value | wpaquote }}{{ else }}{{ .Value }}{{ end }}
{{- end }}
}
`))

// Generate renders a wpa_supplicant profile.
func Generate(opts GenerateOptions) ([]byte, error) {
	if err := ValidateSSID(opts.SSID); err != nil {
		return nil, err
	}

	var network []networkLine
	switch opts.Kind {
	case KindBasic, "":
		network = append(network, ssidLine(opts.SSID))
		switch {
		case opts.Password == "":
			network = append(network, networkLine{"key_mgmt", "NONE", false})
		case opts.HashPSK:
			psk, err := HashPSK(opts.SSID, opts.Password)
			if err != nil {
				return nil, err
			}
			network = append(network, networkLine{"psk", psk, false})
		default:
			if err := checkPassphrase(opts.Password); err != nil {
				return nil, err
			}
			network = append(network, networkLine{"psk", opts.Password, true})
		}
	case KindWPAEAP:
		if opts.Identity == "" {
			return nil, fmt.Errorf("wpa-eap profile for %q requires an identity", opts.SSID)
		}
		network = append(network,
			ssidLine(opts.SSID),
			networkLine{"proto", "RSN", false},
			networkLine{"key_mgmt", "WPA-EAP", false},
			networkLine{"pairwise", "CCMP", false},
			networkLine{"auth_alg", "OPEN", false},
			networkLine{"eap", "PEAP", false},
			networkLine{"identity", opts.Identity, true},
			networkLine{"password", opts.Password, true},
			networkLine{"phase2", "auth=MSCHAPV2", true},
		)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}

	keys := make([]string, 0, len(opts.Extra))
	for k := range opts.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		network = append(network, networkLine{k, opts.Extra[k], true})
	}

	if err := checkQuoted(network); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err := profileTemplate.Execute(&buf, struct {
		Group   string
		Country string
		Network []networkLine
	}{opts.Group, opts.Country, network})
	if err != nil {
		return nil, fmt.Errorf("render profile: %w", err)
	}
	return buf.Bytes(), nil
}

// HashPSK derives the 256-bit WPA pre-shared key the way wpa_passphrase does.
func HashPSK(ssid, passphrase string) (string, error) {
	if err := checkPassphrase(passphrase); err != nil {
		return "", err
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(ssid), 4096, 32, sha1.New)
	return hex.EncodeToString(key), nil
}

// checkPassphrase enforces the WPA rule of 8 to 63 printable ASCII
// characters.
func checkPassphrase(passphrase string) error {
	if n := len(passphrase); n < 8 || n > 63 {
		return fmt.Errorf("wpa passphrase must be 8 to 63 characters, got %d", n)
	}
	for i := 0; i < len(passphrase); i++ {
		if c := passphrase[i]; c < 0x20 || c > 0x7e {
			return fmt.Errorf("wpa passphrase must be printable ASCII")
		}
	}
	return nil
}

// Create renders a profile and stores it as the candidate for opts.SSID.
func (s *Store) Create(opts GenerateOptions) (string, error) {
	data, err := Generate(opts)
	if err != nil {
		return "", err
	}
	return s.Write(opts.SSID, data)
}
