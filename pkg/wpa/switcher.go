package wpa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

// ErrLocked is returned when another switch holds the profile lock.
var ErrLocked = errors.New("profile switch already in progress")

const (
	defaultLockTimeout = 10 * time.Second
	lockRetryDelay     = 100 * time.Millisecond
)

// SwitchResult reports what a switch did. The caller decides which of these
// make up success.
type SwitchResult struct {
	From             string `json:"from,omitempty"`
	To               string `json:"to"`
	Noop             bool   `json:"noop"`
	BackedUp         bool   `json:"backed_up"`
	Copied           bool   `json:"copied"`
	RestartAttempted bool   `json:"restart_attempted"`
	Restarted        bool   `json:"restarted"`
	RestartErr       error  `json:"-"`
}

// OK reports success under the given policy. Without requireRestart a copied
// profile is enough.
func (r SwitchResult) OK(requireRestart bool) bool {
	if r.Noop {
		return true
	}
	if !r.Copied {
		return false
	}
	return !requireRestart || !r.RestartAttempted || r.Restarted
}

// SwitchOptions configures a Switcher.
type SwitchOptions struct {
	LockPath    string
	Backup      bool // copy the active profile into the directory first
	ForceBackup bool // overwrite an existing candidate when backing up
	Restart     bool // bounce the interface after copying
	LockTimeout time.Duration
}

// Switcher makes a candidate profile the active one. It holds an exclusive
// file lock for the whole backup, copy and restart sequence.
type Switcher struct {
	store   *Store
	control pkg.InterfaceControl
	opts    SwitchOptions
	logger  *logx.Logger
}

func NewSwitcher(store *Store, control pkg.InterfaceControl, opts SwitchOptions, logger *logx.Logger) *Switcher {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	return &Switcher{store: store, control: control, opts: opts, logger: logger}
}

// Store returns the profile store the switcher writes to.
func (s *Switcher) Store() *Store { return s.store }

// Switch activates the profile for ssid on iface. Switching to the network
// that is already active does nothing. An error means the profile was not
// copied; a failed restart is reported in the result.
func (s *Switcher) Switch(ctx context.Context, iface, ssid string) (SwitchResult, error) {
	res := SwitchResult{To: ssid}

	candidate, err := s.store.ProfilePath(ssid)
	if err != nil {
		return res, err
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return res, err
	}
	defer unlock()

	current, err := s.store.ActiveSSID()
	if err != nil {
		return res, err
	}
	res.From = current
	if current == ssid {
		res.Noop = true
		s.logger.Debug("Profile already active", "iface", iface, "ssid", ssid)
		return res, nil
	}

	if _, err := os.Stat(candidate); err != nil {
		return res, fmt.Errorf("%w: %s", ErrProfileNotFound, ssid)
	}

	if s.opts.Backup && current != "" {
		backedUp, err := s.store.Backup(s.opts.ForceBackup)
		if err != nil {
			s.logger.Warn("Failed to back up active profile", "ssid", current, "error", err)
		}
		res.BackedUp = backedUp
	}

	if err := copyFile(candidate, s.store.ActivePath); err != nil {
		return res, fmt.Errorf("failed to activate profile %s: %w", ssid, err)
	}
	res.Copied = true
	s.logger.LogSwitch(current, ssid, "profile", map[string]interface{}{"iface": iface, "backed_up": res.BackedUp})

	if s.opts.Restart && s.control != nil {
		res.RestartAttempted = true
		if err := s.control.Restart(ctx, iface); err != nil {
			res.RestartErr = err
			s.logger.Warn("Interface restart after switch failed", "iface", iface, "ssid", ssid, "error", err)
		} else {
			res.Restarted = true
		}
	}
	return res, nil
}

func (s *Switcher) lock(ctx context.Context) (func(), error) {
	path := s.opts.LockPath
	if path == "" {
		path = s.store.ActivePath + ".lock"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(path)
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if !ok {
		_ = fl.Close()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return func() { _ = fl.Unlock() }, nil
}
