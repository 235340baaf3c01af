// Package replica bundles one node's share of the replicated ledger: its
// own store, its own queue binding on the broadcast channel, and its own
// publisher. Replicas share no in-process state; because every write is an
// idempotent insert keyed by transaction id, no cross-node coordination is
// ever needed. Draining every replica's queue converges the ledgers as
// sets — row order may differ per node, and no cross-node total order is
// established (that would require consensus, which this system does not
// implement).
package replica

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/broadcast"
	"github.com/auditmesh/auditmesh/internal/ledger"
	"github.com/auditmesh/auditmesh/internal/metrics"
	"github.com/auditmesh/auditmesh/internal/store"
)

// drainSubTimeout is the per-fetch timeout used while draining a queue.
const drainSubTimeout = 100 * time.Millisecond

// Replica is one participant's ledger store plus its queue binding.
type Replica struct {
	nodeID  string
	store   store.Store
	pub     *broadcast.Publisher
	fetcher broadcast.MessageFetcher
	log     *zap.Logger
}

// New assembles a replica. fetcher is the node's own queue binding; pub may
// be nil for a consume-only node.
func New(nodeID string, st store.Store, pub *broadcast.Publisher, fetcher broadcast.MessageFetcher, log *zap.Logger) *Replica {
	return &Replica{
		nodeID:  nodeID,
		store:   st,
		pub:     pub,
		fetcher: fetcher,
		log:     log.With(zap.String("node_id", nodeID)),
	}
}

// NodeID returns the replica's node identifier.
func (r *Replica) NodeID() string { return r.nodeID }

// Store returns the replica's ledger store.
func (r *Replica) Store() store.Store { return r.store }

// Publisher returns the replica's publisher, or nil for a consume-only node.
func (r *Replica) Publisher() *broadcast.Publisher { return r.pub }

// ConsumeOne fetches at most one message within timeout. An empty queue is
// not an error: it returns (false, nil). A message that cannot be decoded
// or stored is left unacknowledged — the broker will redeliver it — and the
// error propagates to the caller.
func (r *Replica) ConsumeOne(ctx context.Context, timeout time.Duration) (bool, error) {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := r.fetcher.FetchMessage(fctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return false, nil
		}
		return false, err
	}

	tx, err := ledger.Decode(msg.Value)
	if err != nil {
		metrics.ConsumeFailures.Inc()
		r.log.Warn("malformed ledger message left for redelivery", zap.Error(err))
		return false, err
	}

	inserted, err := r.store.Append(ctx, tx)
	if err != nil {
		metrics.ConsumeFailures.Inc()
		r.log.Warn("ledger append failed, message left for redelivery",
			zap.String("transaction_id", tx.TransactionID),
			zap.Error(err),
		)
		return false, err
	}
	if !inserted {
		metrics.DuplicateTransactions.Inc()
	}

	if err := r.fetcher.CommitMessages(ctx, msg); err != nil {
		// The row is stored; a redelivered copy will dedupe on its id.
		return true, err
	}
	metrics.TransactionsConsumed.Inc()
	return true, nil
}

// ConsumeAll drains the queue: it keeps fetching with short sub-timeouts and
// returns the number of messages consumed once timeout elapses with no
// further deliveries.
func (r *Replica) ConsumeAll(ctx context.Context, timeout time.Duration) (int, error) {
	sub := drainSubTimeout
	if timeout < sub {
		sub = timeout
	}

	count := 0
	idleSince := time.Now()
	for {
		ok, err := r.ConsumeOne(ctx, sub)
		if err != nil {
			return count, err
		}
		if ok {
			count++
			idleSince = time.Now()
			continue
		}
		if ctx.Err() != nil || time.Since(idleSince) >= timeout {
			return count, nil
		}
	}
}

// Run consumes forever, until ctx is cancelled. Transient errors are logged
// and retried with exponential backoff; the bad message stays on the broker
// for redelivery or dead-lettering.
func (r *Replica) Run(ctx context.Context) error {
	r.log.Info("replica consume loop started")

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			r.log.Info("replica consume loop stopped")
			return nil
		}

		ok, err := r.ConsumeOne(ctx, time.Second)
		if err != nil {
			r.log.Error("consume failed", zap.Error(err))
			select {
			case <-time.After(backoff):
				if backoff < 10*time.Second {
					backoff *= 2
				}
			case <-ctx.Done():
				r.log.Info("replica consume loop stopped")
				return nil
			}
			continue
		}
		if ok {
			backoff = time.Second
		}
	}
}

// Close releases the queue binding and the publisher connection.
func (r *Replica) Close() error {
	var errs []error
	if err := r.fetcher.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.pub != nil {
		if err := r.pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
