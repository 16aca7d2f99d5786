package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS listings (
	ad_id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	category TEXT,
	title TEXT,
	price_huf INTEGER,
	price_discount_huf INTEGER,
	currency TEXT,
	year INTEGER,
	year_month TEXT,
	mileage_km INTEGER,
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
	content_hash TEXT,
	first_seen_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category);
CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen_at);

CREATE TABLE IF NOT EXISTS crawl_runs (
	run_id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	fetched INTEGER NOT NULL,
	denied INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	parse_failed INTEGER NOT NULL,
	stored INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	cancelled INTEGER NOT NULL,
	failure_categories_json TEXT NOT NULL DEFAULT '{}'
);
`

// sqliteTimeLayout sorts lexically in time order
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements ListingStore on a single SQLite file in WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  *logrus.Entry
	now  func() time.Time
}

// NewSQLiteStore opens or creates the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string, logger *logrus.Entry) (*SQLiteStore, error) {
	storeLog := logger.WithField("component", "sqlite_store")

	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("%w: create database directory %s: %w", utils.ErrFilesystem, dir, err)
			}
		}
		dsn = path + "?mode=rwc&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapDBError("open", path, err)
	}
	// One writer for the run; a single connection also keeps ":memory:" shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, wrapDBError("enable_wal", path, err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
			_ = db.Close()
			return nil, wrapDBError("pragma", path, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, wrapDBError("create_tables", path, err)
	}

	storeLog.Infof("Listing database ready at: %s", path)
	return &SQLiteStore{db: db, path: path, log: storeLog, now: time.Now}, nil
}

func sqlitePlaceholder(int) string { return "?" }

func sqliteTime(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) }

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

// Upsert implements ListingStore
func (s *SQLiteStore) Upsert(ctx context.Context, l *models.Listing) (bool, error) {
	if strings.TrimSpace(l.AdID) == "" {
		return false, constraintError("upsert", l.URL, "listing has no ad_id")
	}
	l.LastSeenAt = s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapDBError("begin", l.AdID, err)
	}
	defer func() { _ = tx.Rollback() }()

	created := false
	var stored string
	err = tx.QueryRowContext(ctx, "SELECT first_seen_at FROM listings WHERE ad_id = ?", l.AdID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		l.FirstSeenAt = l.LastSeenAt
	case err != nil:
		return false, wrapDBError("upsert", l.AdID, err)
	default:
		first, perr := parseSQLiteTime(stored)
		if perr != nil {
			return false, wrapDBError("upsert", l.AdID, perr)
		}
		l.FirstSeenAt = first
	}

	args, err := listingArgs(l, sqliteTime)
	if err != nil {
		return false, wrapDBError("upsert", l.AdID, err)
	}
	if _, err := tx.ExecContext(ctx, upsertSQL(sqlitePlaceholder), args...); err != nil {
		return false, wrapDBError("upsert", l.AdID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, wrapDBError("commit", l.AdID, err)
	}

	s.log.WithFields(logrus.Fields{"ad_id": l.AdID, "created": created}).Debug("Listing upserted")
	return created, nil
}

// HasSeen implements ListingStore
func (s *SQLiteStore) HasSeen(ctx context.Context, adID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM listings WHERE ad_id = ?", adID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapDBError("has_seen", adID, err)
	}
	return true, nil
}

// Get implements ListingStore
func (s *SQLiteStore) Get(ctx context.Context, adID string) (*models.Listing, error) {
	query := "SELECT " + strings.Join(listingColumns, ", ") + " FROM listings WHERE ad_id = ?"
	l, err := scanSQLiteListing(s.db.QueryRowContext(ctx, query, adID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: listing %s", utils.ErrNotFound, adID)
	}
	if err != nil {
		return nil, wrapDBError("get", adID, err)
	}
	return l, nil
}

// Search implements ListingStore
func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) ([]*models.Listing, error) {
	where, args := searchWhere(q, sqlitePlaceholder, "LIKE")
	query := "SELECT " + strings.Join(listingColumns, ", ") + " FROM listings" + where +
		" ORDER BY last_seen_at DESC, ad_id LIMIT ?"
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("search", "", err)
	}
	defer rows.Close()

	var out []*models.Listing
	for rows.Next() {
		l, err := scanSQLiteListing(rows)
		if err != nil {
			return nil, wrapDBError("search", "", err)
		}
		out = append(out, l)
	}
	return out, wrapDBError("search", "", rows.Err())
}

// Count implements ListingStore
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings").Scan(&n); err != nil {
		return 0, wrapDBError("count", "", err)
	}
	return n, nil
}

// RecordRun implements ListingStore
func (s *SQLiteStore) RecordRun(ctx context.Context, run models.RunRecord) error {
	categories, err := marshalJSON(run.FailureCategories)
	if err != nil {
		return wrapDBError("record_run", run.RunID, err)
	}
	_, err = s.db.ExecContext(ctx, insertRunSQL(sqlitePlaceholder),
		run.RunID, sqliteTime(run.StartedAt), sqliteTime(run.FinishedAt),
		run.Fetched, run.Denied, run.Failed, run.ParseFailed, run.Stored, run.Skipped, run.Cancelled,
		categories,
	)
	return wrapDBError("record_run", run.RunID, err)
}

// ListRuns implements ListingStore
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + strings.Join(runColumns, ", ") + " FROM crawl_runs ORDER BY started_at DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, wrapDBError("list_runs", "", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		var started, finished, categories string
		if err := rows.Scan(&r.RunID, &started, &finished,
			&r.Fetched, &r.Denied, &r.Failed, &r.ParseFailed, &r.Stored, &r.Skipped, &r.Cancelled,
			&categories); err != nil {
			return nil, wrapDBError("list_runs", "", err)
		}
		if r.StartedAt, err = parseSQLiteTime(started); err != nil {
			return nil, wrapDBError("list_runs", r.RunID, err)
		}
		if r.FinishedAt, err = parseSQLiteTime(finished); err != nil {
			return nil, wrapDBError("list_runs", r.RunID, err)
		}
		if err := json.Unmarshal([]byte(categories), &r.FailureCategories); err != nil {
			return nil, wrapDBError("list_runs", r.RunID, err)
		}
		runs = append(runs, r)
	}
	return runs, wrapDBError("list_runs", "", rows.Err())
}

// Close implements ListingStore
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.log.Info("Closing listing database...")
	if err := s.db.Close(); err != nil {
		return wrapDBError("close", s.path, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	var r listingRow
	var first, last string
	if err := row.Scan(r.scanDest(&l, &first, &last)...); err != nil {
		return nil, err
	}
	var err error
	if l.FirstSeenAt, err = parseSQLiteTime(first); err != nil {
		return nil, err
	}
	if l.LastSeenAt, err = parseSQLiteTime(last); err != nil {
		return nil, err
	}
	if err := r.decode(&l); err != nil {
		return nil, err
	}
	return &l, nil
}
