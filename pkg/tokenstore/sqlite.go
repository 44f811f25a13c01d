package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/oidcgate/pkg/cryptox"
	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
	"github.com/aussiebroadwan/oidcgate/pkg/tokenstore/migrations"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists session credential sets in a local SQLite file,
// for single-node deployments that must survive restarts. Every stored
// value is sealed with the gateway's key material so the database file on
// disk never holds live credentials in the clear.
type SQLiteStore struct {
	db  *sql.DB
	box *cryptox.Box
}

// NewSQLiteStore opens (or creates) the database at path and applies any
// pending migrations.
func NewSQLiteStore(path string, box *cryptox.Box) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, box: box}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore: sqlite migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) applyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", src, "", driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (s *SQLiteStore) Find(ctx context.Context, sessionID string, role Role) (*jwtx.Token, error) {
	key, err := storageKey(role)
	if err != nil {
		return nil, err
	}

	var sealed []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT token FROM gateway_sessions WHERE session_id = ? AND storage_key = ?`,
		sessionID, key,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: sqlite find: %w", err)
	}

	plain, err := s.box.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: sqlite find: %w", err)
	}

	return decodeRole(plain, role)
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string, role Role) (*jwtx.Token, error) {
	return getOrMissing(ctx, s, sessionID, role)
}

func (s *SQLiteStore) Put(ctx context.Context, sessionID string, set Set) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tokenstore: sqlite put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM gateway_sessions WHERE session_id = ?`, sessionID,
	); err != nil {
		return fmt.Errorf("tokenstore: sqlite put: %w", err)
	}

	for _, role := range roles {
		data, present, err := encodeRole(set, role)
		if err != nil {
			return fmt.Errorf("tokenstore: sqlite put: %w", err)
		}
		if !present {
			continue
		}

		key, err := storageKey(role)
		if err != nil {
			return err
		}

		sealed, err := s.box.Seal(data)
		if err != nil {
			return fmt.Errorf("tokenstore: sqlite put: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gateway_sessions (session_id, storage_key, token, updated_at)
			 VALUES (?, ?, ?, unixepoch())`,
			sessionID, key, sealed,
		); err != nil {
			return fmt.Errorf("tokenstore: sqlite put: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tokenstore: sqlite put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Forget(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM gateway_sessions WHERE session_id = ?`, sessionID,
	); err != nil {
		return fmt.Errorf("tokenstore: sqlite forget: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
