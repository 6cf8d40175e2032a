package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SelectorKind tags the shape an ssids entry was written in.
type SelectorKind int

const (
	// SelectorAny accepts every known profile. It is the default.
	SelectorAny SelectorKind = iota
	// SelectorSingle names exactly one SSID.
	SelectorSingle
	// SelectorPattern is one glob.
	SelectorPattern
	// SelectorList is a list of globs.
	SelectorList
)

func (k SelectorKind) String() string {
	switch k {
	case SelectorSingle:
		return "single"
	case SelectorPattern:
		return "pattern"
	case SelectorList:
		return "list"
	default:
		return "any"
	}
}

// SSIDSelector is the normalized form of a rule's ssids option.
type SSIDSelector struct {
	Kind     SelectorKind
	Patterns []string
}

// AnySSID matches every known profile.
func AnySSID() SSIDSelector {
	return SSIDSelector{Kind: SelectorAny, Patterns: []string{"*"}}
}

// SingleSSID selects one network by exact name.
func SingleSSID(ssid string) SSIDSelector {
	return SSIDSelector{Kind: SelectorSingle, Patterns: []string{ssid}}
}

// PatternSSID selects networks matching one glob.
func PatternSSID(glob string) SSIDSelector {
	return SSIDSelector{Kind: SelectorPattern, Patterns: []string{glob}}
}

// ListSSID selects networks matching any of the globs.
func ListSSID(globs ...string) SSIDSelector {
	return SSIDSelector{Kind: SelectorList, Patterns: append([]string(nil), globs...)}
}

// FromString classifies a scalar entry.
func FromString(s string) SSIDSelector {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "*":
		return AnySSID()
	case hasGlobMeta(s):
		return PatternSSID(s)
	default:
		return SingleSSID(s)
	}
}

// Globs returns the patterns to expand against known profiles. A single
// SSID is escaped so that it only ever matches itself.
func (s SSIDSelector) Globs() []string {
	if s.Kind == SelectorAny || len(s.Patterns) == 0 {
		return []string{"*"}
	}
	if s.Kind == SelectorSingle {
		out := make([]string, len(s.Patterns))
		for i, p := range s.Patterns {
			out[i] = escapeGlob(p)
		}
		return out
	}
	return append([]string(nil), s.Patterns...)
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// IsZero reports whether the selector was never set.
func (s SSIDSelector) IsZero() bool {
	return s.Kind == SelectorAny && len(s.Patterns) == 0
}

func (s SSIDSelector) String() string {
	return fmt.Sprintf("%s%v", s.Kind, s.Globs())
}

// UnmarshalYAML accepts a string or a sequence of strings.
func (s *SSIDSelector) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = FromString(v)
		return nil
	case yaml.SequenceNode:
		var v []string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = fromList(v)
		return nil
	default:
		return fmt.Errorf("line %d: ssids must be a string or a list of strings", node.Line)
	}
}

// UnmarshalTOML accepts a string or an array of strings.
func (s *SSIDSelector) UnmarshalTOML(v interface{}) error {
	switch val := v.(type) {
	case string:
		*s = FromString(val)
		return nil
	case []interface{}:
		list := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("ssids entries must be strings, got %T", item)
			}
			list = append(list, str)
		}
		*s = fromList(list)
		return nil
	default:
		return fmt.Errorf("ssids must be a string or an array of strings, got %T", v)
	}
}

func fromList(list []string) SSIDSelector {
	cleaned := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			cleaned = append(cleaned, item)
		}
	}
	if len(cleaned) == 1 {
		return FromString(cleaned[0])
	}
	return ListSSID(cleaned...)
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{\\")
}
