// Package sqlstore is the relational key store. It runs on SQLite by default
// and on PostgreSQL, MySQL and SQL Server through the same sqlx code path;
// only DDL, id retrieval and row capping differ per dialect.
//
// Timestamps are stored as Unix milliseconds so that comparisons are plain
// integer comparisons on every database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/store"
)

// Store implements store.Store on a SQL database.
type Store struct {
	db *sqlx.DB
	d  *dialect
}

var _ store.Store = (*Store)(nil)

// NewSQLite opens the sqlite key database inside dataDir, creating the
// directory if needed. Pass an empty string for an in-memory database.
func NewSQLite(ctx context.Context, dataDir string) (*Store, error) {
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return Open(ctx, "sqlite", SQLiteDSN(dataDir))
}

// Open connects to the database named by driver ("sqlite", "postgres",
// "mysql" or "mssql", plus common aliases) and ensures the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s: dsn is required", d.name)
	}

	db, err := sqlx.ConnectContext(ctx, d.driverName, normalizeDSN(d, dsn))
	if err != nil {
		return nil, store.Unavailable(d.name+" connect", err)
	}

	if d.singleConn {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(time.Minute)
	}

	s := &Store{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate key database: %w", err)
	}
	return s, nil
}

// Driver returns the canonical dialect name.
func (s *Store) Driver() string { return s.d.name }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return store.Unavailable("ping", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

// keyRow maps 1:1 to the access_keys columns.
type keyRow struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Token       string `db:"token"`
	Format      string `db:"format"`
	Length      int    `db:"length"`
	CreatedAtMs int64  `db:"created_at_ms"`
	ExpiresAtMs int64  `db:"expires_at_ms"`
	UsedCount   int    `db:"used_count"`
	MaxUses     int    `db:"max_uses"`
}

func keyRowFromModel(k *model.Key) keyRow {
	return keyRow{
		ID:          k.ID,
		Name:        k.Name,
		Token:       k.Token,
		Format:      string(k.Format),
		Length:      k.Length,
		CreatedAtMs: k.CreatedAt.UnixMilli(),
		ExpiresAtMs: k.ExpiresAt.UnixMilli(),
		UsedCount:   k.UsedCount,
		MaxUses:     k.MaxUses,
	}
}

func (r keyRow) toModel() model.Key {
	return model.Key{
		ID:        r.ID,
		Name:      r.Name,
		Token:     r.Token,
		Format:    model.Format(r.Format),
		Length:    r.Length,
		CreatedAt: time.UnixMilli(r.CreatedAtMs).UTC(),
		ExpiresAt: time.UnixMilli(r.ExpiresAtMs).UTC(),
		UsedCount: r.UsedCount,
		MaxUses:   r.MaxUses,
	}
}

func rowsToModels(rows []keyRow) []model.Key {
	keys := make([]model.Key, len(rows))
	for i, r := range rows {
		keys[i] = r.toModel()
	}
	return keys
}

// ---------------------------------------------------------------------------
// Key operations
// ---------------------------------------------------------------------------

// Create inserts k and sets k.ID. The insert is a single statement, so a
// cancelled call leaves either the whole row or nothing.
func (s *Store) Create(ctx context.Context, k *model.Key) error {
	row := keyRowFromModel(k)
	q := s.d.insertQuery()

	var id int64
	if s.d.insert == lastInsertID {
		result, err := s.db.NamedExecContext(ctx, q, row)
		if err != nil {
			return s.insertError(err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return store.Unavailable("get key id", err)
		}
	} else {
		rows, err := s.db.NamedQueryContext(ctx, q, row)
		if err != nil {
			return s.insertError(err)
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return s.insertError(err)
			}
			return store.Unavailable("insert key", errors.New("no id returned"))
		}
		if err := rows.Scan(&id); err != nil {
			return store.Unavailable("scan key id", err)
		}
	}
	k.ID = id
	return nil
}

func (s *Store) insertError(err error) error {
	if s.d.isUnique(err) {
		return store.ErrDuplicateToken
	}
	return store.Unavailable("insert key", err)
}

// Get returns the key for token.
func (s *Store) Get(ctx context.Context, token string) (*model.Key, error) {
	var row keyRow
	q := s.db.Rebind(s.d.selectKeys("token = ?", "", 0))
	if err := s.db.GetContext(ctx, &row, q, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Unavailable("get key", err)
	}
	k := row.toModel()
	return &k, nil
}

// Consume increments the use count with a single conditional UPDATE and
// reads the row back in the same transaction. The UPDATE's WHERE clause is
// the only place validity is decided, so concurrent consumers serialize on
// the row and exactly one of them wins each remaining use.
func (s *Store) Consume(ctx context.Context, token string, now time.Time) (*model.Key, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, store.Unavailable("begin consume", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE access_keys SET used_count = used_count + 1
		 WHERE token = ? AND used_count < max_uses AND expires_at_ms > ?`),
		token, now.UnixMilli())
	if err != nil {
		return nil, store.Unavailable("consume key", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, store.Unavailable("consume key", err)
	}

	var row keyRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(s.d.selectKeys("token = ?", "", 0)), token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Unavailable("read consumed key", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, store.Unavailable("commit consume", err)
	}

	k := row.toModel()
	switch {
	case affected == 1:
		return &k, nil
	case k.IsExpiredAt(now):
		return &k, store.ErrExpired
	default:
		return &k, store.ErrExhausted
	}
}

// List returns keys most recent first.
func (s *Store) List(ctx context.Context, filter store.Filter, now time.Time) ([]model.Key, error) {
	var (
		where string
		args  []any
	)
	if filter == store.FilterLive {
		where = "expires_at_ms > ? AND used_count < max_uses"
		args = append(args, now.UnixMilli())
	}

	var rows []keyRow
	q := s.db.Rebind(s.d.selectKeys(where, "created_at_ms DESC, id DESC", 0))
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, store.Unavailable("list keys", err)
	}
	return rowsToModels(rows), nil
}

// Search matches query against name and token, ignoring ASCII case the same
// way on every dialect.
func (s *Store) Search(ctx context.Context, query string, limit int, now time.Time) ([]model.Key, error) {
	pattern := store.LikePattern(query)

	var rows []keyRow
	q := s.db.Rebind(s.d.selectKeys(s.d.searchWhere(), "created_at_ms DESC, id DESC", limit))
	if err := s.db.SelectContext(ctx, &rows, q, pattern, pattern, now.UnixMilli()); err != nil {
		return nil, store.Unavailable("search keys", err)
	}
	return rowsToModels(rows), nil
}

// SweepExpired deletes keys whose expiry is at or before now.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM access_keys WHERE expires_at_ms <= ?"), now.UnixMilli())
	if err != nil {
		return 0, store.Unavailable("sweep keys", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, store.Unavailable("sweep keys", err)
	}
	return n, nil
}

// Clear deletes every key.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM access_keys"); err != nil {
		return store.Unavailable("clear keys", err)
	}
	return nil
}
