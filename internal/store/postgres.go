package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/ledger"
)

// ledgerSchema is applied lazily on first use. The unique constraint on
// transaction_id carries the idempotency contract; the two covering indexes
// serve per-entity history lookups and future block-range queries.
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	transaction_id text PRIMARY KEY,
	block_id       text        NOT NULL DEFAULT 'pending',
	block_height   bigint      NOT NULL DEFAULT 0,
	node_id        text        NOT NULL,
	entity_class   text        NOT NULL,
	entity_id      text        NOT NULL,
	operation      text        NOT NULL,
	fields         jsonb       NOT NULL,
	timestamp      timestamptz NOT NULL,
	nonce          text        NOT NULL,
	signature      text        NOT NULL DEFAULT '',
	key_version    text        NOT NULL DEFAULT '',
	public_key     text        NOT NULL DEFAULT '',
	snapshot_hash  text        NOT NULL DEFAULT '',
	reason         text        NOT NULL DEFAULT '',
	created_at     timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entity ON ledger_transactions (entity_class, entity_id);
CREATE INDEX IF NOT EXISTS idx_ledger_block_height ON ledger_transactions (block_height);
`

// Postgres persists the ledger to a PostgreSQL database. It implements the
// Store interface.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	schemaOnce sync.Once
	schemaErr  error
}

// NewPostgres creates a Postgres store backed by the given connection pool.
// The pool is exclusively owned by this node's append path.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// ensureSchema creates the ledger table and indexes once per process.
func (p *Postgres) ensureSchema(ctx context.Context) error {
	p.schemaOnce.Do(func() {
		if _, err := p.pool.Exec(ctx, ledgerSchema); err != nil {
			p.schemaErr = fmt.Errorf("ensure ledger schema: %w", err)
		}
	})
	return p.schemaErr
}

// Append implements Store. A duplicate transaction id hits the primary key
// and is dropped by ON CONFLICT DO NOTHING; the command tag tells the two
// outcomes apart.
func (p *Postgres) Append(ctx context.Context, tx *ledger.Transaction) (bool, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}

	fieldsJSON, err := json.Marshal(tx.Fields)
	if err != nil {
		return false, fmt.Errorf("marshal fields: %w", err)
	}

	tag, err := p.pool.Exec(ctx,
		`INSERT INTO ledger_transactions (
			transaction_id, block_id, block_height, node_id, entity_class,
			entity_id, operation, fields, timestamp, nonce,
			signature, key_version, public_key, snapshot_hash, reason
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		) ON CONFLICT (transaction_id) DO NOTHING`,
		tx.TransactionID, BlockIDPending, BlockHeightUnassigned, tx.NodeID, tx.EntityClass,
		tx.EntityID, string(tx.Operation), fieldsJSON, tx.Timestamp, tx.Nonce,
		tx.Signature, tx.KeyVersion, tx.PublicKey, tx.SnapshotHash, tx.Reason,
	)
	if err != nil {
		return false, fmt.Errorf("append transaction: %w", err)
	}

	if tag.RowsAffected() == 0 {
		p.logger.Debug("duplicate transaction ignored",
			zap.String("transaction_id", tx.TransactionID),
		)
		return false, nil
	}
	return true, nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, transactionID string) (*Entry, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	row := p.pool.QueryRow(ctx, selectEntry+` WHERE transaction_id = $1`, transactionID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", transactionID, err)
	}
	return e, nil
}

// History implements Store. Served by the (entity_class, entity_id) index.
func (p *Postgres) History(ctx context.Context, entityClass, entityID string) ([]*Entry, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		selectEntry+` WHERE entity_class = $1 AND entity_id = $2 ORDER BY created_at ASC, transaction_id ASC`,
		entityClass, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Transactions implements Store.
func (p *Postgres) Transactions(ctx context.Context) ([]*ledger.Transaction, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, selectEntry+` ORDER BY created_at ASC, transaction_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transaction
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		tx := e.Transaction
		out = append(out, &tx)
	}
	return out, rows.Err()
}

// TransactionIDs implements Store.
func (p *Postgres) TransactionIDs(ctx context.Context) ([]string, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT transaction_id FROM ledger_transactions ORDER BY created_at ASC, transaction_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query transaction ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Count implements Store.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

const selectEntry = `
	SELECT transaction_id, block_id, block_height, node_id, entity_class,
	       entity_id, operation, fields, timestamp, nonce,
	       signature, key_version, public_key, snapshot_hash, reason, created_at
	FROM ledger_transactions`

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var op string
	var fieldsJSON []byte
	var ts, createdAt time.Time
	if err := row.Scan(
		&e.TransactionID, &e.BlockID, &e.BlockHeight, &e.NodeID, &e.EntityClass,
		&e.EntityID, &op, &fieldsJSON, &ts, &e.Nonce,
		&e.Signature, &e.KeyVersion, &e.PublicKey, &e.SnapshotHash, &e.Reason, &createdAt,
	); err != nil {
		return nil, err
	}
	e.Operation = ledger.Operation(op)
	e.Timestamp = ts.UTC()
	e.CreatedAt = createdAt.UTC()
	if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return e, nil
}
