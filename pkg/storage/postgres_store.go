package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS listings (
	ad_id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	title TEXT,
	price_huf BIGINT,
	price_discount_huf BIGINT,
	currency TEXT,
	year INTEGER,
	year_month TEXT,
	mileage_km BIGINT,
	fuel TEXT,
	engine_cc INTEGER,
	power_kw INTEGER,
	power_hp INTEGER,
	transmission TEXT,
	drivetrain TEXT,
	body_type TEXT,
	color TEXT,
	condition TEXT,
	doors INTEGER,
	seats INTEGER,
	seller_name TEXT,
	seller_type TEXT,
	location TEXT,
	description TEXT,
	equipment_json TEXT NOT NULL DEFAULT '[]',
	images_json TEXT NOT NULL DEFAULT '[]',
	attributes_json TEXT NOT NULL DEFAULT '{}',
	raw_html TEXT,
	content_hash TEXT NOT NULL DEFAULT '',
	first_seen_at TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category);
CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at);

CREATE TABLE IF NOT EXISTS crawl_runs (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	fetched INTEGER NOT NULL,
	denied INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	parse_failed INTEGER NOT NULL,
	stored INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	cancelled BOOLEAN NOT NULL,
	failure_categories_json TEXT NOT NULL DEFAULT '{}'
);
`

// PostgresStore implements ListingStore on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
	now  func() time.Time
}

// NewPostgresStore connects to dsn and applies the schema
func NewPostgresStore(ctx context.Context, dsn string, maxConns int, logger *logrus.Entry) (*PostgresStore, error) {
	storeLog := logger.WithField("component", "postgres_store")

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: database URL: %w", utils.ErrConfigValidation, err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrapDBError("connect", cfg.ConnConfig.Host, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapDBError("connect", cfg.ConnConfig.Host, err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, wrapDBError("create_tables", cfg.ConnConfig.Host, err)
	}

	storeLog.Infof("Listing database ready at: %s/%s", cfg.ConnConfig.Host, cfg.ConnConfig.Database)
	return &PostgresStore{pool: pool, log: storeLog, now: time.Now}, nil
}

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func postgresTime(t time.Time) any { return t.UTC() }

// Upsert implements ListingStore
func (s *PostgresStore) Upsert(ctx context.Context, l *models.Listing) (bool, error) {
	if strings.TrimSpace(l.AdID) == "" {
		return false, constraintError("upsert", l.URL, "listing has no ad_id")
	}
	l.LastSeenAt = s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, wrapDBError("begin", l.AdID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := false
	var stored time.Time
	err = tx.QueryRow(ctx, "SELECT first_seen_at FROM listings WHERE ad_id = $1 FOR UPDATE", l.AdID).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		created = true
		l.FirstSeenAt = l.LastSeenAt
	case err != nil:
		return false, wrapDBError("upsert", l.AdID, err)
	default:
		l.FirstSeenAt = stored.UTC()
	}

	args, err := listingArgs(l, postgresTime)
	if err != nil {
		return false, wrapDBError("upsert", l.AdID, err)
	}
	if _, err := tx.Exec(ctx, upsertSQL(postgresPlaceholder), args...); err != nil {
		return false, wrapDBError("upsert", l.AdID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, wrapDBError("commit", l.AdID, err)
	}

	s.log.WithFields(logrus.Fields{"ad_id": l.AdID, "created": created}).Debug("Listing upserted")
	return created, nil
}

// HasSeen implements ListingStore
func (s *PostgresStore) HasSeen(ctx context.Context, adID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM listings WHERE ad_id = $1)", adID).Scan(&exists)
	if err != nil {
		return false, wrapDBError("has_seen", adID, err)
	}
	return exists, nil
}

// Get implements ListingStore
func (s *PostgresStore) Get(ctx context.Context, adID string) (*models.Listing, error) {
	query := "SELECT " + strings.Join(listingColumns, ", ") + " FROM listings WHERE ad_id = $1"
	l, err := scanPostgresListing(s.pool.QueryRow(ctx, query, adID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: listing %s", utils.ErrNotFound, adID)
	}
	if err != nil {
		return nil, wrapDBError("get", adID, err)
	}
	return l, nil
}

// Search implements ListingStore
func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]*models.Listing, error) {
	where, args := searchWhere(q, postgresPlaceholder, "ILIKE")
	args = append(args, q.limit())
	query := "SELECT " + strings.Join(listingColumns, ", ") + " FROM listings" + where +
		" ORDER BY last_seen_at DESC, ad_id LIMIT " + postgresPlaceholder(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("search", "", err)
	}
	defer rows.Close()

	var out []*models.Listing
	for rows.Next() {
		l, err := scanPostgresListing(rows)
		if err != nil {
			return nil, wrapDBError("search", "", err)
		}
		out = append(out, l)
	}
	return out, wrapDBError("search", "", rows.Err())
}

// Count implements ListingStore
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&n); err != nil {
		return 0, wrapDBError("count", "", err)
	}
	return n, nil
}

// RecordRun implements ListingStore
func (s *PostgresStore) RecordRun(ctx context.Context, run models.RunRecord) error {
	categories, err := marshalJSON(run.FailureCategories)
	if err != nil {
		return wrapDBError("record_run", run.RunID, err)
	}
	_, err = s.pool.Exec(ctx, insertRunSQL(postgresPlaceholder),
		run.RunID, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Fetched, run.Denied, run.Failed, run.ParseFailed, run.Stored, run.Skipped, run.Cancelled,
		categories,
	)
	return wrapDBError("record_run", run.RunID, err)
}

// ListRuns implements ListingStore
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + strings.Join(runColumns, ", ") + " FROM crawl_runs ORDER BY started_at DESC LIMIT $1"
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, wrapDBError("list_runs", "", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		var categories string
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt,
			&r.Fetched, &r.Denied, &r.Failed, &r.ParseFailed, &r.Stored, &r.Skipped, &r.Cancelled,
			&categories); err != nil {
			return nil, wrapDBError("list_runs", "", err)
		}
		if err := json.Unmarshal([]byte(categories), &r.FailureCategories); err != nil {
			return nil, wrapDBError("list_runs", r.RunID, err)
		}
		runs = append(runs, r)
	}
	return runs, wrapDBError("list_runs", "", rows.Err())
}

// Close implements ListingStore
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.log.Info("Closing listing database pool...")
		s.pool.Close()
	}
	return nil
}

func scanPostgresListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var r listingRow
	if err := row.Scan(r.scanDest(&l, &l.FirstSeenAt, &l.LastSeenAt)...); err != nil {
		return nil, err
	}
	if err := r.decode(&l); err != nil {
		return nil, err
	}
	return &l, nil
}
