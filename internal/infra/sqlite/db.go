// Package sqlite is the local durable store behind the persistence gateway.
package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens (creating if needed) the database at path and applies pending migrations.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir %s: %w", dir, err)
		}
	}

	if err := runMigrations(path); err != nil {
		return nil, err
	}

	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return db, nil
}

func open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	return db, nil
}

// newMigrator uses its own connection; closing the migrator closes the database it was given.
func newMigrator(path string) (*migrate.Migrate, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrator: %w", err)
	}
	return m, nil
}

func runMigrations(path string) error {
	m, err := newMigrator(path)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migrate up: %w", err)
	}
	return nil
}

// MigrationStatus is the schema version of a database. Version is 0 when nothing is applied.
type MigrationStatus struct {
	Version uint
	Dirty   bool
}

// MigrateUp applies all pending migrations.
func MigrateUp(path string) (MigrationStatus, error) {
	if err := runMigrations(path); err != nil {
		return MigrationStatus{}, err
	}
	return Status(path)
}

// MigrateDown rolls back steps migrations.
func MigrateDown(path string, steps int) (MigrationStatus, error) {
	if steps <= 0 {
		return MigrationStatus{}, fmt.Errorf("sqlite: migrate down: steps must be positive, got %d", steps)
	}
	m, err := newMigrator(path)
	if err != nil {
		return MigrationStatus{}, err
	}
	err = m.Steps(-steps)
	m.Close()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationStatus{}, fmt.Errorf("sqlite: migrate down: %w", err)
	}
	return Status(path)
}

// Status reads the schema version without changing anything.
func Status(path string) (MigrationStatus, error) {
	m, err := newMigrator(path)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("sqlite: migration version: %w", err)
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}

// Migration is one embedded schema change.
type Migration struct {
	Version  uint
	Name     string
	Filename string
	// Checksum is the sha256 of the up script.
	Checksum string
}

var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.up\.sql$`)

// Migrations lists the embedded migrations in version order.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("sqlite: read migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m, ok := parseMigrationName(e.Name())
		if !ok {
			continue
		}
		content, err := fs.ReadFile(migrations, "migrations/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("sqlite: read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		m.Checksum = hex.EncodeToString(sum[:])
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseMigrationName(filename string) (Migration, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return Migration{}, false
	}
	version, err := strconv.ParseUint(matches[1], 10, 32)
	if err != nil {
		return Migration{}, false
	}
	return Migration{Version: uint(version), Name: matches[2], Filename: filename}, true
}
