package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/aussiebroadwan/tokend/internal/token/domain"
	"github.com/aussiebroadwan/tokend/internal/token/store"
	_ "modernc.org/sqlite"
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need, so the same
// query code serves both the root store and a transaction-scoped one.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Store struct {
	queries
	db  *sql.DB
	dsn string
}

var _ store.Store = (*Store)(nil)

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// A single pooled connection: writes serialize cleanly and an
	// in-memory DSN stays one database instead of one per connection.
	db.SetMaxOpenConns(1)

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		queries: queries{db: db},
		db:      db,
		dsn:     dsn,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a transaction, automatically handling
// commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(newTx(tx)); err != nil {
		return err // rollback happens in defer
	}

	return tx.Commit()
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapOptionalTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func marshalAccessToken(t domain.AccessToken) (string, error) {
	b, err := json.Marshal(t)
	return string(b), err
}

func unmarshalAccessToken(raw string) (domain.AccessToken, error) {
	var t domain.AccessToken
	err := json.Unmarshal([]byte(raw), &t)
	return t, err
}

func marshalRefreshToken(t domain.RefreshToken) (string, error) {
	b, err := json.Marshal(t)
	return string(b), err
}

func unmarshalRefreshToken(raw string) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := json.Unmarshal([]byte(raw), &t)
	return t, err
}

func marshalGrant(g domain.Grant) (string, error) {
	b, err := json.Marshal(g)
	return string(b), err
}

func unmarshalGrant(raw string) (domain.Grant, error) {
	var g domain.Grant
	err := json.Unmarshal([]byte(raw), &g)
	return g, err
}
