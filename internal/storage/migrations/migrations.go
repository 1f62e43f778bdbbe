// Package migrations embeds the SQL schema for the relational stores.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	migrate "github.com/rubenv/sql-migrate"
)

// Dialects understood by sql-migrate.
const (
	Postgres = "postgres"
	SQLite   = "sqlite3"
)

//go:embed postgres/*.sql sqlite3/*.sql
var files embed.FS

// Source returns the migration source for a dialect.
func Source(dialect string) (migrate.MigrationSource, error) {
	sub, err := fs.Sub(files, dialect)
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", dialect, err)
	}
	return &migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(sub)}, nil
}

// Up applies all pending migrations and returns how many ran.
func Up(db *sql.DB, dialect string) (int, error) {
	if dialect != Postgres && dialect != SQLite {
		return 0, fmt.Errorf("unsupported migration dialect: %s", dialect)
	}
	source, err := Source(dialect)
	if err != nil {
		return 0, err
	}
	n, err := migrate.Exec(db, dialect, source, migrate.Up)
	if err != nil {
		return 0, fmt.Errorf("apply %s migrations: %w", dialect, err)
	}
	return n, nil
}
