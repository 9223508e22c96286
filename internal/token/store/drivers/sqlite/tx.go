package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/tokend/internal/token/store"
)

type txStore struct {
	queries
	tx *sql.Tx
}

var _ store.Store = (*txStore)(nil)

func newTx(tx *sql.Tx) *txStore {
	return &txStore{
		queries: queries{db: tx},
		tx:      tx,
	}
}

func (t *txStore) Close() error { return nil } // nothing to close; the outer DB stays open

// Ping is a no-op for transactions. The connection is already established
// when the transaction is created.
func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return sql.ErrTxDone
}
