// Package capture is the narrow interface the surrounding persistence layer
// calls into. On a committed save or delete it turns the storage
// representation of the record into a ledger transaction and publishes it.
//
// The contract with the caller is strict: Record* must only be invoked
// after the originating write has committed to its source-of-truth store.
// An entry for a mutation that never took effect cannot be distinguished
// from tampering later.
package capture

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/broadcast"
	"github.com/auditmesh/auditmesh/internal/fields"
	"github.com/auditmesh/auditmesh/internal/ledger"
	"github.com/auditmesh/auditmesh/internal/metrics"
)

// Recorder captures committed mutations as ledger transactions.
type Recorder struct {
	nodeID    string
	extractor *fields.Extractor
	pub       *broadcast.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// NewRecorder creates a Recorder publishing on behalf of nodeID.
func NewRecorder(nodeID string, extractor *fields.Extractor, pub *broadcast.Publisher, log *zap.Logger) *Recorder {
	return &Recorder{
		nodeID:    nodeID,
		extractor: extractor,
		pub:       pub,
		log:       log,
		now:       time.Now,
	}
}

// RecordSave captures a committed insert or update. rec is the post-write
// storage representation. A mutation with zero ledger-eligible fields is
// skipped entirely: no transaction, no publish. The created transaction is
// returned for the caller's benefit; nil means skipped.
func (r *Recorder) RecordSave(ctx context.Context, meta *fields.Metadata, rec fields.Record, entityID string) (*ledger.Transaction, error) {
	return r.record(ctx, meta, rec, entityID, ledger.OpSave, "", "")
}

// RecordDelete captures a committed delete. rec is the pre-delete storage
// representation and snapshotHash is the caller's hash of that record.
func (r *Recorder) RecordDelete(ctx context.Context, meta *fields.Metadata, rec fields.Record, entityID, snapshotHash, reason string) (*ledger.Transaction, error) {
	return r.record(ctx, meta, rec, entityID, ledger.OpDelete, snapshotHash, reason)
}

func (r *Recorder) record(ctx context.Context, meta *fields.Metadata, rec fields.Record, entityID string, op ledger.Operation, snapshotHash, reason string) (*ledger.Transaction, error) {
	digests, err := r.extractor.Extract(rec, meta)
	if err != nil {
		return nil, err
	}
	if len(digests) == 0 {
		metrics.MutationsSkipped.Inc()
		r.log.Debug("mutation has no ledger-eligible fields, skipping",
			zap.String("entity_class", meta.EntityClass),
			zap.String("entity_id", entityID),
		)
		return nil, nil
	}

	tx, err := ledger.New(r.nodeID, meta.EntityClass, entityID, op, digests, r.now())
	if err != nil {
		return nil, err
	}
	tx.SnapshotHash = snapshotHash
	tx.Reason = reason

	if err := r.pub.Publish(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}
