package db

import (
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/supplybot/internal/monitoring"
)

// withMigrate runs fn against a migrator over migrationsFS. The migrator is
// not closed because that would close the shared *sql.DB.
func (db *DB) withMigrate(migrationsFS fs.FS, op string, fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("failed to open migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MigrateUp applies every pending migration. Being current is not an error.
func (db *DB) MigrateUp(migrationsFS fs.FS) error {
	return db.withMigrate(migrationsFS, "migration up failed", func(m *migrate.Migrate) error {
		return m.Up()
	})
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(migrationsFS fs.FS) error {
	return db.withMigrate(migrationsFS, "migration down failed", func(m *migrate.Migrate) error {
		return m.Steps(-1)
	})
}

// MigrateTo migrates up or down to version.
func (db *DB) MigrateTo(migrationsFS fs.FS, version uint) error {
	return db.withMigrate(migrationsFS, fmt.Sprintf("migration to version %d failed", version), func(m *migrate.Migrate) error {
		return m.Migrate(version)
	})
}

// MigrateForce records version as applied without running anything. It is
// the way out of a dirty schema.
func (db *DB) MigrateForce(migrationsFS fs.FS, version int) error {
	return db.withMigrate(migrationsFS, fmt.Sprintf("force migration to version %d failed", version), func(m *migrate.Migrate) error {
		return m.Force(version)
	})
}

// MigrateVersion returns the applied version, 0 for a fresh database.
func (db *DB) MigrateVersion(migrationsFS fs.FS) (version uint, dirty bool, err error) {
	err = db.withMigrate(migrationsFS, "failed to read migration version", func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		return verr
	})
	return version, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// MigrationStatus summarises the schema state of the run log.
type MigrationStatus struct {
	CurrentVersion         uint `json:"current_version"`
	LatestVersion          uint `json:"latest_version"`
	Dirty                  bool `json:"dirty"`
	SchemaMigrationsExists bool `json:"schema_migrations_exists"`
}

// GetMigrationStatus compares the applied version with the newest one in
// migrationsFS.
func (db *DB) GetMigrationStatus(migrationsFS fs.FS) (MigrationStatus, error) {
	var st MigrationStatus
	err := db.QueryRow(
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&st.SchemaMigrationsExists)
	if err != nil {
		return st, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}
	if st.CurrentVersion, st.Dirty, err = db.MigrateVersion(migrationsFS); err != nil {
		return st, err
	}
	st.LatestVersion, err = GetLatestMigrationVersion(migrationsFS)
	return st, err
}

// GetLatestMigrationVersion returns the highest NNNNNN prefix among the
// *.up.sql files in migrationsFS.
func GetLatestMigrationVersion(migrationsFS fs.FS) (uint, error) {
	names, err := fs.Glob(migrationsFS, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}
	var latest uint
	for _, name := range names {
		var v uint
		if _, err := fmt.Sscanf(path.Base(name), "%d_", &v); err == nil && v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return 0, errors.New("no migration files found")
	}
	return latest, nil
}
