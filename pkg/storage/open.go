package storage

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// IsPostgresDSN reports whether database names a Postgres server rather than a SQLite file
func IsPostgresDSN(database string) bool {
	return strings.HasPrefix(database, "postgres://") || strings.HasPrefix(database, "postgresql://")
}

// Open returns the listing store for database: a postgres:// URL or a SQLite file path
func Open(ctx context.Context, database string, logger *logrus.Entry) (ListingStore, error) {
	if IsPostgresDSN(database) {
		return NewPostgresStore(ctx, database, 2, logger)
	}
	return NewSQLiteStore(ctx, database, logger)
}
