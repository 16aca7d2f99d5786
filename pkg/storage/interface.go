package storage

import (
	"context"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
)

// ListingStore persists listings keyed by ad_id. Each Upsert is one committed transaction.
type ListingStore interface {
	// Upsert inserts l or updates the mutable fields of the stored row with the same ad_id.
	// The store stamps l.LastSeenAt with its clock. first_seen_at of an existing row is never
	// changed; l.FirstSeenAt is set to the stored value.
	// Returns true when the row was newly created.
	Upsert(ctx context.Context, l *models.Listing) (created bool, err error)

	// HasSeen reports whether a listing with adID is already stored
	HasSeen(ctx context.Context, adID string) (bool, error)

	// Get returns the stored listing, or an error wrapping utils.ErrNotFound
	Get(ctx context.Context, adID string) (*models.Listing, error)

	// Search returns listings matching q, most recently seen first
	Search(ctx context.Context, q SearchQuery) ([]*models.Listing, error)

	// Count returns the number of stored listings
	Count(ctx context.Context) (int, error)

	// RecordRun appends a row to crawl_runs
	RecordRun(ctx context.Context, run models.RunRecord) error

	// ListRuns returns up to limit runs, newest first
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)

	// Close releases the underlying database handle
	Close() error
}

// SearchQuery filters listings. Zero values mean "no filter".
type SearchQuery struct {
	Text     string // Substring of the title, case-insensitive
	Category string
	Fuel     string
	MinPrice int64
	MaxPrice int64
	MinYear  int
	MaxYear  int
	Limit    int // Defaults to DefaultSearchLimit
}

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
)

func (q SearchQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		return MaxSearchLimit
	}
	return q.Limit
}
