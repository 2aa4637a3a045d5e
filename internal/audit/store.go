// Package audit keeps a local history of transition runs in bbolt.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/rdswitch/internal/transition"
)

// Bucket names in bbolt
var (
	bucketRuns = []byte("runs")
	bucketMeta = []byte("meta")

	keySequence = []byte("sequence")
)

// Run is one persisted transition run.
type Run struct {
	Seq              int64                `json:"seq" yaml:"seq"`
	Direction        transition.Direction `json:"direction" yaml:"direction"`
	Mode             transition.Mode      `json:"mode" yaml:"mode"`
	StartedAt        time.Time            `json:"started_at" yaml:"started_at"`
	Duration         time.Duration        `json:"duration" yaml:"duration"`
	Scanned          int                  `json:"scanned" yaml:"scanned"`
	SkippedStatus    int                  `json:"skipped_status" yaml:"skipped_status"`
	SkippedNoConsent int                  `json:"skipped_no_consent" yaml:"skipped_no_consent"`
	Outcomes         []transition.Outcome `json:"outcomes" yaml:"outcomes"`
	Errors           []ErrorRecord        `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ErrorRecord is a persisted per-instance failure.
type ErrorRecord struct {
	InstanceID string           `json:"instance_id" yaml:"instance_id"`
	Stage      transition.Stage `json:"stage" yaml:"stage"`
	Error      string           `json:"error" yaml:"error"`
}

// InstanceRecord is the latest thing that happened to one instance.
type InstanceRecord struct {
	InstanceID string               `json:"instance_id" yaml:"instance_id"`
	LastSeq    int64                `json:"last_seq" yaml:"last_seq"`
	LastAt     time.Time            `json:"last_at" yaml:"last_at"`
	Direction  transition.Direction `json:"direction" yaml:"direction"`
	Outcome    string               `json:"outcome" yaml:"outcome"` // outcome status, or "error:<stage>"
	Error      string               `json:"error,omitempty" yaml:"error,omitempty"`
}

// Store persists runs in bbolt and indexes the latest record per instance
// in memory.
type Store struct {
	mu sync.RWMutex

	db       *bbolt.DB
	index    *btree.BTreeG[*InstanceRecord]
	sequence int64
}

// Open opens (or creates) the store at path and rebuilds the index.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit buckets: %w", err)
	}

	s := &Store{
		db: db,
		index: btree.NewG[*InstanceRecord](32, func(a, b *InstanceRecord) bool {
			return a.InstanceID < b.InstanceID
		}),
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit persists the result as a new run. Store implements emitter.Emitter.
func (s *Store) Emit(_ context.Context, result *transition.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := newRun(s.sequence+1, result)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuns).Put(makeRunKey(run.Seq), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keySequence, int64ToBytes(run.Seq))
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	s.sequence = run.Seq
	s.updateIndex(run)
	return nil
}

// Runs returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(limit int) ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Instance returns the latest record for one instance.
func (s *Store) Instance(id string) (InstanceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.index.Get(&InstanceRecord{InstanceID: id})
	if !ok {
		return InstanceRecord{}, false
	}
	return *rec, true
}

// Instances returns the latest record of every instance, ordered by ID.
func (s *Store) Instances() []InstanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]InstanceRecord, 0, s.index.Len())
	s.index.Ascend(func(rec *InstanceRecord) bool {
		records = append(records, *rec)
		return true
	})
	return records
}

// Sequence returns the number of the last recorded run.
func (s *Store) Sequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keySequence); v != nil {
			n, err := bytesToInt64(v)
			if err != nil {
				return fmt.Errorf("decode sequence: %w", err)
			}
			s.sequence = n
		}

		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			s.updateIndex(run)
			return nil
		})
	})
}

// updateIndex must be called with mu held (or before the store is shared).
func (s *Store) updateIndex(run Run) {
	at := run.StartedAt.Add(run.Duration)

	for _, o := range run.Outcomes {
		s.index.ReplaceOrInsert(&InstanceRecord{
			InstanceID: o.InstanceID,
			LastSeq:    run.Seq,
			LastAt:     at,
			Direction:  run.Direction,
			Outcome:    string(o.Status),
			Error:      o.Error,
		})
	}

	// list_tags failures never produce an outcome
	for _, e := range run.Errors {
		if e.Stage != transition.StageListTags {
			continue
		}
		s.index.ReplaceOrInsert(&InstanceRecord{
			InstanceID: e.InstanceID,
			LastSeq:    run.Seq,
			LastAt:     at,
			Direction:  run.Direction,
			Outcome:    "error:" + string(e.Stage),
			Error:      e.Error,
		})
	}
}

func newRun(seq int64, result *transition.Result) Run {
	run := Run{
		Seq:              seq,
		Direction:        result.Direction,
		Mode:             result.Mode,
		StartedAt:        result.StartedAt,
		Duration:         result.Duration,
		Scanned:          result.Scanned,
		SkippedStatus:    result.SkippedStatus,
		SkippedNoConsent: result.SkippedNoConsent,
		Outcomes:         result.Outcomes,
	}
	for _, e := range result.Errors {
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		run.Errors = append(run.Errors, ErrorRecord{InstanceID: e.InstanceID, Stage: e.Stage, Error: msg})
	}
	return run
}

func makeRunKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%016d", seq))
}

func int64ToBytes(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func bytesToInt64(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}
