// Package sqlite provides the SQLite implementation of the fieldsync local
// durable store. Acknowledged writes are committed transactions and survive
// an abrupt process termination.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	syncErrors "github.com/siamtech/fieldsync/errors"
	"github.com/siamtech/fieldsync/logging"
	"github.com/siamtech/fieldsync/mutation"
	"github.com/siamtech/fieldsync/storage"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opPut      = "sqlite.Put"
	opGetAll   = "sqlite.GetAll"
	opUpdate   = "sqlite.Update"
	opRemove   = "sqlite.Remove"
	opCount    = "sqlite.Count"
	opPutAsset = "sqlite.PutAsset"
	opGetAsset = "sqlite.GetAsset"
	opDelAsset = "sqlite.DeleteAsset"
	opList     = "sqlite.ListAssets"
)

// Config holds configuration options for the Store.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:fieldsync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Logger is an optional logger for internal operations and errors.
	Logger *logging.Logger

	// Connection pool settings.
	// Defaults: MaxOpen=10, MaxIdle=2, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			sep := "?"
			if strings.Contains(c.DataSourceName, "?") {
				sep = "&"
			}
			c.DataSourceName += sep + "_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store implements storage.Store on SQLite.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

// Compile-time check to ensure Store satisfies the storage interfaces
var _ storage.Store = (*Store)(nil)

// New creates a new Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger.WithComponent("sqlite-store")
	logger.Info("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

// NewWithDataSource is a convenience constructor using default settings.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// setupSchema creates the mutation and asset tables if they don't exist.
// The (kind, target_id) primary key makes repeated enqueue of the same
// logical mutation overwrite rather than duplicate.
func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS pending_mutations (
        kind            TEXT NOT NULL,
        target_id       TEXT NOT NULL,
        id              TEXT NOT NULL,
        payload         TEXT NOT NULL,
        created_at      TIMESTAMP NOT NULL,
        attempt_count   INTEGER NOT NULL DEFAULT 0,
        last_error      TEXT NOT NULL DEFAULT '',
        failed          INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (kind, target_id)
    );
    CREATE INDEX IF NOT EXISTS idx_mutations_kind_id ON pending_mutations (kind, id);

    CREATE TABLE IF NOT EXISTS offline_assets (
        synthetic_id    TEXT PRIMARY KEY,
        owner_survey_id TEXT NOT NULL,
        name            TEXT NOT NULL DEFAULT '',
        mime            TEXT NOT NULL DEFAULT '',
        data            BLOB NOT NULL,
        created_at      TIMESTAMP NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_assets_owner ON offline_assets (owner_survey_id);
    `
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	return nil
}

// Put inserts or replaces the pending mutation keyed by kind+targetID.
func (s *Store) Put(ctx context.Context, m *mutation.PendingMutation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
    INSERT INTO pending_mutations (kind, target_id, id, payload, created_at, attempt_count, last_error, failed)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (kind, target_id) DO UPDATE SET
        id = excluded.id,
        payload = excluded.payload,
        created_at = excluded.created_at,
        attempt_count = excluded.attempt_count,
        last_error = excluded.last_error,
        failed = excluded.failed`
	_, err := s.db.ExecContext(ctx, query,
		string(m.Kind), m.TargetID, m.ID, string(m.Payload), m.CreatedAt,
		m.AttemptCount, m.LastError, boolToInt(m.Failed))
	return syncErrors.WrapOpComponentKind(err, opPut, "storage/sqlite", syncErrors.KindStorage)
}

// GetAll returns all pending mutations of a kind, oldest first.
func (s *Store) GetAll(ctx context.Context, kind mutation.Kind) ([]*mutation.PendingMutation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
    SELECT kind, target_id, id, payload, created_at, attempt_count, last_error, failed
    FROM pending_mutations WHERE kind = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opGetAll, "storage/sqlite", syncErrors.KindStorage)
	}
	defer rows.Close()

	var result []*mutation.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, syncErrors.WrapOpComponentKind(err, opGetAll, "storage/sqlite", syncErrors.KindStorage)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opGetAll, "storage/sqlite", syncErrors.KindStorage)
	}
	return result, nil
}

// Update rewrites attempt bookkeeping for an existing mutation.
func (s *Store) Update(ctx context.Context, m *mutation.PendingMutation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
    UPDATE pending_mutations
    SET attempt_count = ?, last_error = ?, failed = ?
    WHERE kind = ? AND target_id = ?`
	res, err := s.db.ExecContext(ctx, query,
		m.AttemptCount, m.LastError, boolToInt(m.Failed), string(m.Kind), m.TargetID)
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opUpdate, "storage/sqlite", syncErrors.KindStorage)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opUpdate, "storage/sqlite", syncErrors.KindStorage)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Remove deletes the pending mutation for kind+targetID.
func (s *Store) Remove(ctx context.Context, kind mutation.Kind, targetID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE kind = ? AND target_id = ?`,
		string(kind), targetID)
	return syncErrors.WrapOpComponentKind(err, opRemove, "storage/sqlite", syncErrors.KindStorage)
}

// Count returns the number of pending mutations of a kind.
func (s *Store) Count(ctx context.Context, kind mutation.Kind) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_mutations WHERE kind = ?`, string(kind)).Scan(&n)
	if err != nil {
		return 0, syncErrors.WrapOpComponentKind(err, opCount, "storage/sqlite", syncErrors.KindStorage)
	}
	return n, nil
}

// CountAll returns the total number of pending mutations.
func (s *Store) CountAll(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_mutations`).Scan(&n)
	if err != nil {
		return 0, syncErrors.WrapOpComponentKind(err, opCount, "storage/sqlite", syncErrors.KindStorage)
	}
	return n, nil
}

// PutAsset stores an offline asset.
func (s *Store) PutAsset(ctx context.Context, a *mutation.OfflineAsset) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
    INSERT OR REPLACE INTO offline_assets (synthetic_id, owner_survey_id, name, mime, data, created_at)
    VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		a.SyntheticID, a.OwnerSurveyID, a.Name, a.MIME, a.Data, a.CreatedAt)
	return syncErrors.WrapOpComponentKind(err, opPutAsset, "storage/sqlite", syncErrors.KindStorage)
}

// GetAsset returns the asset for the synthetic ID, or storage.ErrNotFound.
func (s *Store) GetAsset(ctx context.Context, syntheticID string) (*mutation.OfflineAsset, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	a := &mutation.OfflineAsset{}
	err := s.db.QueryRowContext(ctx, `
    SELECT synthetic_id, owner_survey_id, name, mime, data, created_at
    FROM offline_assets WHERE synthetic_id = ?`, syntheticID).
		Scan(&a.SyntheticID, &a.OwnerSurveyID, &a.Name, &a.MIME, &a.Data, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opGetAsset, "storage/sqlite", syncErrors.KindStorage)
	}
	return a, nil
}

// DeleteAsset removes the asset. Deleting an absent asset is not an error.
func (s *Store) DeleteAsset(ctx context.Context, syntheticID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM offline_assets WHERE synthetic_id = ?`, syntheticID)
	return syncErrors.WrapOpComponentKind(err, opDelAsset, "storage/sqlite", syncErrors.KindStorage)
}

// ListAssets returns all assets owned by a survey, in creation order.
func (s *Store) ListAssets(ctx context.Context, ownerSurveyID string) ([]*mutation.OfflineAsset, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
    SELECT synthetic_id, owner_survey_id, name, mime, data, created_at
    FROM offline_assets WHERE owner_survey_id = ? ORDER BY created_at ASC, synthetic_id ASC`,
		ownerSurveyID)
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opList, "storage/sqlite", syncErrors.KindStorage)
	}
	defer rows.Close()

	var result []*mutation.OfflineAsset
	for rows.Next() {
		a := &mutation.OfflineAsset{}
		if err := rows.Scan(&a.SyntheticID, &a.OwnerSurveyID, &a.Name, &a.MIME, &a.Data, &a.CreatedAt); err != nil {
			return nil, syncErrors.WrapOpComponentKind(err, opList, "storage/sqlite", syncErrors.KindStorage)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opList, "storage/sqlite", syncErrors.KindStorage)
	}
	return result, nil
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanMutation(rows *sql.Rows) (*mutation.PendingMutation, error) {
	m := &mutation.PendingMutation{}
	var kind, payload string
	var failed int
	if err := rows.Scan(&kind, &m.TargetID, &m.ID, &payload, &m.CreatedAt, &m.AttemptCount, &m.LastError, &failed); err != nil {
		return nil, err
	}
	m.Kind = mutation.Kind(kind)
	m.Payload = []byte(payload)
	m.Failed = failed != 0
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
