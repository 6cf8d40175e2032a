// Package journal keeps a bounded on-disk history of check cycles.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
)

// Bucket names for the bbolt database
const (
	ChecksBucket = "checks"
)

const openTimeout = 5 * time.Second

// Journal stores check results keyed by an increasing sequence. Entries
// beyond maxEntries are dropped oldest first; zero keeps everything.
// The database file is held open only for the duration of one operation.
type Journal struct {
	mu         sync.Mutex
	path       string
	readOnly   bool
	maxEntries int
	logger     *logx.Logger
}

// Open opens or creates the journal at path.
func Open(path string, maxEntries int, logger *logx.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	j := &Journal{path: path, maxEntries: maxEntries, logger: logger}
	err := j.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ChecksBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize journal buckets: %w", err)
	}
	return j, nil
}

// OpenReadOnly opens an existing journal for inspection. Each read waits for
// a writer holding the file for up to a few seconds.
func OpenReadOnly(path string, logger *logx.Logger) (*Journal, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	return &Journal{path: path, readOnly: true, logger: logger}, nil
}

// Close is kept for symmetry with Open; no file handle outlives an operation.
func (j *Journal) Close() error {
	return nil
}

func (j *Journal) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(j.path, 0o600, &bolt.Options{Timeout: openTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	return db, nil
}

func (j *Journal) update(fn func(*bolt.Tx) error) error {
	if j.readOnly {
		return bolt.ErrDatabaseReadOnly
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	db, err := j.open(false)
	if err != nil {
		return err
	}
	if err := db.Update(fn); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

func (j *Journal) view(fn func(*bolt.Tx) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	db, err := j.open(j.readOnly)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

// Append stores res and trims old entries.
func (j *Journal) Append(res *pkg.CheckResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal check result: %w", err)
	}

	err = j.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ChecksBucket))
		if bucket == nil {
			return fmt.Errorf("checks bucket not found")
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		if err := bucket.Put(itob(seq), data); err != nil {
			return err
		}
		if j.maxEntries <= 0 || seq <= uint64(j.maxEntries) {
			return nil
		}

		cutoff := seq - uint64(j.maxEntries)
		var stale [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store check result: %w", err)
	}
	return nil
}

// ObserveCheck appends every cycle; failures are logged only.
func (j *Journal) ObserveCheck(_ context.Context, res *pkg.CheckResult) {
	if err := j.Append(res); err != nil {
		j.logger.Warn("Failed to journal check", "check_id", res.ID, "error", err)
	}
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (j *Journal) Recent(n int) ([]*pkg.CheckResult, error) {
	var out []*pkg.CheckResult
	err := j.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ChecksBucket))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(out) >= n {
				break
			}
			var res pkg.CheckResult
			if err := json.Unmarshal(v, &res); err != nil {
				return fmt.Errorf("entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, &res)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return out, nil
}

// Len returns the number of stored entries.
func (j *Journal) Len() (int, error) {
	var n int
	err := j.view(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket([]byte(ChecksBucket)); bucket != nil {
			n = bucket.Stats().KeyN
		}
		return nil
	})
	return n, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
