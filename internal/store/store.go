// Package store persists ledger transactions append-only and idempotently.
//
// The unique constraint on transaction_id is the entire idempotency
// contract: re-appending a known id is a counted no-op, never an error and
// never a second row. That single property is what makes at-least-once
// broadcast delivery safe — no other deduplication mechanism exists.
//
// Two implementations of the Store interface are provided:
//   - Memory: in-process, for testing and single-node offline use.
//   - Postgres: durable, for production use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/auditmesh/auditmesh/internal/ledger"
)

// Block sentinels. Block finalization does not exist in this system: every
// entry is written "pending" at height zero and stays that way. The columns
// and the block_height index are carried so the schema does not have to
// change if finalization is ever built.
const (
	BlockIDPending        = "pending"
	BlockHeightUnassigned = 0
)

// ErrNotFound is returned when a transaction id is not in the ledger.
var ErrNotFound = errors.New("transaction not found")

// Entry is one persisted ledger row: the transaction plus the block
// sentinels and the server-assigned creation time.
type Entry struct {
	ledger.Transaction
	BlockID     string    `json:"blockId"`
	BlockHeight int64     `json:"blockHeight"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is the append-only ledger for one node. Entries are never updated
// or deleted.
type Store interface {
	// Append inserts tx idempotently. It reports whether a new row was
	// written; false with a nil error means the id was already present.
	Append(ctx context.Context, tx *ledger.Transaction) (bool, error)

	// Get returns the entry with the given transaction id.
	Get(ctx context.Context, transactionID string) (*Entry, error)

	// History returns all entries for one entity in append order.
	History(ctx context.Context, entityClass, entityID string) ([]*Entry, error)

	// Transactions returns every stored transaction in append order.
	Transactions(ctx context.Context) ([]*ledger.Transaction, error)

	// TransactionIDs returns the set of stored ids in append order.
	TransactionIDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)
}
