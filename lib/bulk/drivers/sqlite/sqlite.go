// Package sqlite is the bulk tier driver backed by modernc.org/sqlite. Every
// object store is a table keyed by the item key; the schema version is kept
// in PRAGMA user_version.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ValentinKolb/tkv/lib/bulk"
	_ "modernc.org/sqlite"
)

var storeName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Driver opens sqlite databases.
type Driver struct{}

// New returns a sqlite driver.
func New() *Driver {
	return &Driver{}
}

// Name implements bulk.Driver.
func (d *Driver) Name() string { return "sqlite" }

// Open implements bulk.Driver.
func (d *Driver) Open(ctx context.Context, path string) (bulk.Database, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time, sqlite serializes them anyway
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &database{sqlDB: sqlDB}, nil
}

type database struct {
	sqlDB *sql.DB
}

// table returns the quoted table name of store.
func table(store string) (string, error) {
	if !storeName.MatchString(store) {
		return "", fmt.Errorf("invalid store name %q", store)
	}
	return `"` + store + `"`, nil
}

// storeErr maps a missing table to bulk.ErrNoStore.
func storeErr(store string, err error) error {
	if err != nil && strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %s", bulk.ErrNoStore, store)
	}
	return err
}

func (d *database) Version(ctx context.Context) (uint64, error) {
	var version uint64
	if err := d.sqlDB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

func (d *database) Upgrade(ctx context.Context, version uint64, stores []string) error {
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, store := range stores {
		name, err := table(store)
		if err != nil {
			return err
		}
		stmt := "CREATE TABLE IF NOT EXISTS " + name + " (key TEXT PRIMARY KEY, record BLOB NOT NULL)"
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create store %q: %w", store, err)
		}
	}

	// PRAGMA does not take bind parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upgrade: %w", err)
	}
	return nil
}

func (d *database) HasStore(ctx context.Context, store string) (bool, error) {
	var count int
	err := d.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", store,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *database) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	name, err := table(store)
	if err != nil {
		return nil, false, err
	}

	var record []byte
	err = d.sqlDB.QueryRowContext(ctx, "SELECT record FROM "+name+" WHERE key = ?", key).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr(store, err)
	}
	return record, true, nil
}

func (d *database) Put(ctx context.Context, store, key string, record []byte) error {
	name, err := table(store)
	if err != nil {
		return err
	}
	_, err = d.sqlDB.ExecContext(ctx,
		"INSERT INTO "+name+" (key, record) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET record = excluded.record",
		key, record,
	)
	return storeErr(store, err)
}

func (d *database) Delete(ctx context.Context, store, key string) error {
	name, err := table(store)
	if err != nil {
		return err
	}
	_, err = d.sqlDB.ExecContext(ctx, "DELETE FROM "+name+" WHERE key = ?", key)
	return storeErr(store, err)
}

func (d *database) Keys(ctx context.Context, store string) ([]string, error) {
	name, err := table(store)
	if err != nil {
		return nil, err
	}

	rows, err := d.sqlDB.QueryContext(ctx, "SELECT key FROM "+name+" ORDER BY key")
	if err != nil {
		return nil, storeErr(store, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (d *database) Clear(ctx context.Context, store string) error {
	name, err := table(store)
	if err != nil {
		return err
	}
	_, err = d.sqlDB.ExecContext(ctx, "DELETE FROM "+name)
	return storeErr(store, err)
}

func (d *database) Close() error {
	return d.sqlDB.Close()
}
