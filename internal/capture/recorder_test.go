package capture_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/broadcast"
	"github.com/auditmesh/auditmesh/internal/capture"
	"github.com/auditmesh/auditmesh/internal/fields"
	"github.com/auditmesh/auditmesh/internal/ledger"
	"github.com/auditmesh/auditmesh/internal/store"
)

var ctx = context.Background()

// newTestRecorder wires a recorder to a local fallback store (offline mode),
// so published transactions land directly in st.
func newTestRecorder(st store.Store) *capture.Recorder {
	pub := broadcast.NewPublisher(broadcast.Config{Enabled: true}, st, zap.NewNop())
	return capture.NewRecorder("node-a", fields.NewExtractor(nil), pub, zap.NewNop())
}

var userMeta = &fields.Metadata{
	EntityClass: "User",
	Descriptors: []fields.Descriptor{
		{Name: "email", Kind: fields.KindString},
		{Name: "age", Kind: fields.KindInt},
	},
}

func TestRecordSave_publishesDigestedTransaction(t *testing.T) {
	st := store.NewMemory()
	rec := newTestRecorder(st)

	tx, err := rec.RecordSave(ctx, userMeta, fields.Record{"email": "a@b.c", "age": 30}, "42")
	if err != nil {
		t.Fatal(err)
	}
	if tx == nil {
		t.Fatal("expected a transaction")
	}
	if tx.Operation != ledger.OpSave || tx.EntityClass != "User" || tx.EntityID != "42" {
		t.Errorf("transaction shape wrong: %+v", tx)
	}
	if tx.Fields["email"] != ledger.Sha256Hex([]byte("a@b.c")) {
		t.Error("fields must be digested, not plaintext")
	}

	if _, err := st.Get(ctx, tx.TransactionID); err != nil {
		t.Errorf("transaction not persisted: %v", err)
	}
}

func TestRecordSave_zeroEligibleFieldsSkips(t *testing.T) {
	st := store.NewMemory()
	rec := newTestRecorder(st)
	meta := &fields.Metadata{EntityClass: "Session"}

	tx, err := rec.RecordSave(ctx, meta, fields.Record{"token": "xyz"}, "9")
	if err != nil {
		t.Fatal(err)
	}
	if tx != nil {
		t.Error("mutation with no eligible fields must not produce a transaction")
	}
	n, _ := st.Count(ctx)
	if n != 0 {
		t.Errorf("nothing may be published for a skipped mutation, found %d rows", n)
	}
}

func TestRecordDelete_carriesSnapshotHashAndReason(t *testing.T) {
	st := store.NewMemory()
	rec := newTestRecorder(st)
	snapshot := ledger.Sha256Hex([]byte("pre-delete record"))

	tx, err := rec.RecordDelete(ctx, userMeta,
		fields.Record{"email": "a@b.c", "age": 30}, "42", snapshot, "retention expiry")
	if err != nil {
		t.Fatal(err)
	}
	if tx.Operation != ledger.OpDelete {
		t.Errorf("operation: got %q", tx.Operation)
	}
	if tx.SnapshotHash != snapshot {
		t.Errorf("snapshot hash: got %q", tx.SnapshotHash)
	}
	if tx.Reason != "retention expiry" {
		t.Errorf("reason: got %q", tx.Reason)
	}
}

func TestRecordSave_extractionErrorStopsPublish(t *testing.T) {
	st := store.NewMemory()
	rec := newTestRecorder(st)

	// Descriptor list drifted from the schema: config error, fail fast.
	_, err := rec.RecordSave(ctx, userMeta, fields.Record{"email": "a@b.c"}, "42")
	if err == nil {
		t.Fatal("expected extraction error")
	}
	n, _ := st.Count(ctx)
	if n != 0 {
		t.Errorf("failed extraction must not publish, found %d rows", n)
	}
}
