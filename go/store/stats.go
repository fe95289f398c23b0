package store

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for registration side-effect.
	"github.com/pkg/errors"
)

// StatStore is the persisted operational state of a harvester instance:
// monotonic per-message-type counters, per-content last-update pairs,
// paging cursors, and the politeness wait window. It is a single SQLite
// file; all access funnels through one mutex.
type StatStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStats opens (creating if needed) the stat store at path.
func OpenStats(path string) (*StatStore, error) {
	var db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening stat store %s", path)
	}
	if _, err = db.Exec(
		`CREATE TABLE IF NOT EXISTS stats (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initializing stat store schema")
	}
	return &StatStore{db: db}, nil
}

// Close closes the underlying database.
func (s *StatStore) Close() error { return s.db.Close() }

// Get unmarshals the value stored under key into out, reporting whether
// the key existed.
func (s *StatStore) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key, out)
}

func (s *StatStore) getLocked(key string, out any) (bool, error) {
	var raw string
	var err = s.db.QueryRow(`SELECT value FROM stats WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "reading stat %s", key)
	}
	if err = json.Unmarshal([]byte(raw), out); err != nil {
		return false, errors.Wrapf(err, "decoding stat %s", key)
	}
	return true, nil
}

// Set stores v under key, replacing any previous value.
func (s *StatStore) Set(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, v)
}

func (s *StatStore) setLocked(key string, v any) error {
	var raw, err = json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding stat %s", key)
	}
	if _, err = s.db.Exec(
		`INSERT INTO stats (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(raw),
	); err != nil {
		return errors.Wrapf(err, "writing stat %s", key)
	}
	return nil
}

// Increment bumps the integer counter under key and returns its new value.
// Missing counters start from zero.
func (s *StatStore) Increment(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if _, err := s.getLocked(key, &n); err != nil {
		return 0, err
	}
	n++
	if err := s.setLocked(key, n); err != nil {
		return 0, err
	}
	return n, nil
}

// NextID implements message.Sequencer on the persisted counter space.
func (s *StatStore) NextID(msgType string) (uint64, error) {
	var n, err = s.Increment("msg_id:" + msgType)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// UpdatePair is the per-content last-update record.
type UpdatePair struct {
	Index int    `json:"index"`
	Date  string `json:"date"`
}

// LastUpdate returns the per-content update pair.
func (s *StatStore) LastUpdate(content string) (UpdatePair, error) {
	var pair UpdatePair
	var _, err = s.Get("last_update:"+content, &pair)
	return pair, err
}

// BumpLastUpdate advances the per-content update index, stamping the
// current ISO date, and returns the previous index.
func (s *StatStore) BumpLastUpdate(content string) (int, error) {
	var pair, err = s.LastUpdate(content)
	if err != nil {
		return 0, err
	}
	var next = UpdatePair{Index: pair.Index + 1, Date: time.Now().Format(time.RFC3339)}
	return pair.Index, s.Set("last_update:"+content, next)
}

// WaitWindow returns the politeness wait window in seconds.
func (s *StatStore) WaitWindow() (float64, float64) {
	var min, max float64
	_, _ = s.Get("min_wait_time", &min)
	_, _ = s.Get("max_wait_time", &max)
	return min, max
}

// SetWaitWindow persists the politeness wait window.
func (s *StatStore) SetWaitWindow(min, max float64) error {
	if err := s.Set("min_wait_time", min); err != nil {
		return err
	}
	return s.Set("max_wait_time", max)
}

// EnsureWaitWindow seeds the wait window from configuration when the
// store does not hold one yet.
func (s *StatStore) EnsureWaitWindow(min, max float64) error {
	var cur float64
	if ok, err := s.Get("min_wait_time", &cur); err != nil {
		return err
	} else if ok {
		return nil
	}
	return s.SetWaitWindow(min, max)
}

// WasBanned reports the sticky ban flag.
func (s *StatStore) WasBanned() bool {
	var b bool
	_, _ = s.Get("was_banned", &b)
	return b
}

// SetWasBanned persists the sticky ban flag.
func (s *StatStore) SetWasBanned(b bool) error { return s.Set("was_banned", b) }
