package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/log"
	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

const (
	visitedKeyPrefix = "visited:" // Prefix for normalized candidate URLs
	outcomeKeyPrefix = "outcome:" // Prefix for per-URL outcome entries
)

// VisitedSet is the run-scoped memory of the crawl: the frontier's dedup set keyed by
// normalized URL, plus the last outcome of every candidate. It lives in an in-memory
// badger instance and is discarded when the run ends.
type VisitedSet struct {
	db       *badger.DB
	log      *logrus.Entry
	visited  atomic.Int64
	outcomes atomic.Int64
}

// NewVisitedSet opens an in-memory badger instance
func NewVisitedSet(logger *logrus.Entry) (*VisitedSet, error) {
	setLog := logger.WithField("component", "visited_set")
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(log.NewBadgerLogrusAdapter(setLog)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open in-memory visited set: %w", utils.ErrDatabase, err)
	}
	setLog.Debug("In-memory visited set initialized.")
	return &VisitedSet{db: db, log: setLog}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for badger transaction conflicts
func (s *VisitedSet) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkVisited records normalizedURL. Returns true if it was not seen before in this run.
func (s *VisitedSet) MarkVisited(normalizedURL string) (bool, error) {
	if s.db == nil || s.db.IsClosed() {
		return false, fmt.Errorf("%w: visited set not initialized", utils.ErrDatabase)
	}
	added := false
	key := []byte(visitedKeyPrefix + normalizedURL)

	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			if errSet := txn.SetEntry(badger.NewEntry(key, []byte{})); errSet != nil {
				return errSet
			}
			added = true
			return nil
		}
		return errGet
	})
	if err != nil {
		return false, fmt.Errorf("%w: marking '%s': %w", utils.ErrDatabase, normalizedURL, err)
	}
	if added {
		s.visited.Add(1)
	}
	return added, nil
}

// IsVisited reports whether normalizedURL was marked in this run
func (s *VisitedSet) IsVisited(normalizedURL string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, errGet := txn.Get([]byte(visitedKeyPrefix + normalizedURL))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet == nil {
			found = true
		}
		return errGet
	})
	if err != nil {
		return false, fmt.Errorf("%w: reading '%s': %w", utils.ErrDatabase, normalizedURL, err)
	}
	return found, nil
}

// VisitedCount returns the number of distinct URLs marked
func (s *VisitedSet) VisitedCount() int {
	return int(s.visited.Load())
}

// RecordOutcome stores the latest outcome of a candidate URL
func (s *VisitedSet) RecordOutcome(normalizedURL string, entry models.URLOutcomeEntry) error {
	key := []byte(outcomeKeyPrefix + normalizedURL)
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal outcome for '%s': %w", utils.ErrParsing, normalizedURL, err)
	}

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		if _, errGet := txn.Get(key); errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, val))
	})
	if err != nil {
		return fmt.Errorf("%w: failed setting outcome for '%s': %w", utils.ErrDatabase, normalizedURL, err)
	}
	if isNew {
		s.outcomes.Add(1)
	}
	return nil
}

// Outcome returns the recorded outcome of normalizedURL, or nil when none was recorded
func (s *VisitedSet) Outcome(normalizedURL string) (*models.URLOutcomeEntry, error) {
	var entry *models.URLOutcomeEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get([]byte(outcomeKeyPrefix + normalizedURL))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		return item.Value(func(val []byte) error {
			var decoded models.URLOutcomeEntry
			if err := json.Unmarshal(val, &decoded); err != nil {
				return err
			}
			entry = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading outcome for '%s': %w", utils.ErrDatabase, normalizedURL, err)
	}
	return entry, nil
}

// OutcomeCount returns the number of URLs with a recorded outcome
func (s *VisitedSet) OutcomeCount() int {
	return int(s.outcomes.Load())
}

// outcomeLine is one line of the ledger file
type outcomeLine struct {
	URL string `json:"url"`
	models.URLOutcomeEntry
}

// WriteLedger writes every recorded outcome as one JSON object per line, in key order
func (s *VisitedSet) WriteLedger(ctx context.Context, filePath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return 0, fmt.Errorf("%w: create ledger dir: %w", utils.ErrFilesystem, err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("%w: create ledger '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	enc := json.NewEncoder(writer)
	written := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(outcomeKeyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			line := outcomeLine{URL: string(item.Key()[len(prefix):])}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &line.URLOutcomeEntry)
			}); err != nil {
				s.log.Warnf("Skipping unreadable outcome for '%s': %v", line.URL, err)
				continue
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if iterErr != nil {
		if errors.Is(iterErr, context.Canceled) || errors.Is(iterErr, context.DeadlineExceeded) {
			return written, iterErr
		}
		return written, fmt.Errorf("%w: writing ledger '%s': %w", utils.ErrFilesystem, filePath, iterErr)
	}
	if err := writer.Flush(); err != nil {
		return written, fmt.Errorf("%w: flush ledger '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	if err := file.Sync(); err != nil {
		return written, fmt.Errorf("%w: sync ledger '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	s.log.Infof("Wrote %d URL outcomes to ledger: %s", written, filePath)
	return written, nil
}

// Close releases the in-memory database
func (s *VisitedSet) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing visited set: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Visited set closed.")
	return nil
}
