package postgres

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationTable records applied migrations.
const MigrationTable = "wallet_migrations"

func migrationSource() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}
}

// Migrate applies all pending up migrations and returns how many ran.
func Migrate(_ context.Context, db *sql.DB) (int, error) {
	ms := migrate.MigrationSet{TableName: MigrationTable}

	n, err := ms.Exec(db, "postgres", migrationSource(), migrate.Up)
	if err != nil {
		return n, errors.Wrap(err, "failed to apply migrations")
	}

	return n, nil
}

// PendingMigrations lists migrations not applied yet.
func PendingMigrations(db *sql.DB) ([]string, error) {
	ms := migrate.MigrationSet{TableName: MigrationTable}

	planned, _, err := ms.PlanMigration(db, "postgres", migrationSource(), migrate.Up, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to plan migrations")
	}

	res := make([]string, 0, len(planned))
	for _, m := range planned {
		res = append(res, m.Id)
	}

	return res, nil
}
