package replica_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/broadcast"
	"github.com/auditmesh/auditmesh/internal/ledger"
	"github.com/auditmesh/auditmesh/internal/replica"
	"github.com/auditmesh/auditmesh/internal/store"
)

var ctx = context.Background()

func mkTx(t *testing.T, nodeID, entityID string) *ledger.Transaction {
	t.Helper()
	tx, err := ledger.New(nodeID, "User", entityID, ledger.OpSave,
		map[string]string{"email": "abc"}, time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

// newTestReplica binds a replica (with its own store and queue) to broker.
func newTestReplica(nodeID string, broker *broadcast.MemoryBroker) (*replica.Replica, *broadcast.MemoryQueue) {
	st := store.NewMemory()
	queue := broker.Subscribe(broadcast.QueueName(nodeID))
	pub := broadcast.NewPublisherWithWriter(
		broadcast.Config{Enabled: true, Topic: "ledger"}, broker, zap.NewNop())
	return replica.New(nodeID, st, pub, queue, zap.NewNop()), queue
}

func TestConsumeOne_emptyQueueReturnsFalse(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	r, _ := newTestReplica("node-a", broker)

	ok, err := r.ConsumeOne(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("empty queue must not be an error: %v", err)
	}
	if ok {
		t.Error("empty queue must return false")
	}
}

func TestConsumeOne_persistsAndAcks(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	r, queue := newTestReplica("node-a", broker)

	tx := mkTx(t, "node-b", "1")
	if err := r.Publisher().Publish(ctx, tx); err != nil {
		t.Fatal(err)
	}

	ok, err := r.ConsumeOne(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a message to be consumed")
	}
	if _, err := r.Store().Get(ctx, tx.TransactionID); err != nil {
		t.Errorf("transaction not stored: %v", err)
	}
	if queue.Uncommitted() != 0 {
		t.Error("consumed message must be acknowledged")
	}
}

func TestConsumeOne_malformedMessageNackedAndPropagated(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	r, queue := newTestReplica("node-a", broker)

	if err := broker.WriteMessages(ctx, kafka.Message{Value: []byte("not a transaction")}); err != nil {
		t.Fatal(err)
	}

	_, err := r.ConsumeOne(ctx, time.Second)
	if err == nil {
		t.Fatal("malformed message must propagate an error")
	}
	if queue.Uncommitted() != 1 {
		t.Error("malformed message must stay unacknowledged for redelivery")
	}
	n, _ := r.Store().Count(ctx)
	if n != 0 {
		t.Errorf("nothing should be stored, found %d rows", n)
	}
}

func TestConsumeAll_returnsCount(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	r, _ := newTestReplica("node-a", broker)

	for i := 0; i < 4; i++ {
		tx := mkTx(t, "node-b", string(rune('1'+i)))
		if err := r.Publisher().Publish(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	count, err := r.ConsumeAll(ctx, 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Errorf("expected 4 consumed, got %d", count)
	}
}

func TestConsumeOne_duplicateDeliveryIsAbsorbed(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	r, _ := newTestReplica("node-a", broker)

	tx := mkTx(t, "node-b", "1")
	data, err := tx.Encode()
	if err != nil {
		t.Fatal(err)
	}
	// The broker redelivered the same message twice.
	msg := kafka.Message{Value: data}
	if err := broker.WriteMessages(ctx, msg, msg); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		ok, err := r.ConsumeOne(ctx, time.Second)
		if err != nil {
			t.Fatalf("duplicate delivery must not error: %v", err)
		}
		if !ok {
			t.Fatal("expected a message")
		}
	}

	n, _ := r.Store().Count(ctx)
	if n != 1 {
		t.Errorf("expected exactly 1 stored row after duplicate delivery, got %d", n)
	}
}

func TestConvergence_allReplicasReachEqualSets(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	ra, _ := newTestReplica("node-a", broker)
	rb, _ := newTestReplica("node-b", broker)

	// Node A publishes 5 distinct transactions; the fanout delivers each to
	// both queues, including A's own.
	for i := 0; i < 5; i++ {
		tx := mkTx(t, "node-a", string(rune('1'+i)))
		if err := ra.Publisher().Publish(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := ra.ConsumeAll(ctx, 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := rb.ConsumeAll(ctx, 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	idsA, err := ra.Store().TransactionIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	idsB, err := rb.Store().TransactionIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(idsA) != 5 || len(idsB) != 5 {
		t.Fatalf("expected 5 rows on each node, got %d and %d", len(idsA), len(idsB))
	}

	// Sets must match; row order is allowed to differ per node.
	sort.Strings(idsA)
	sort.Strings(idsB)
	for i := range idsA {
		if idsA[i] != idsB[i] {
			t.Fatalf("ledger sets diverged at %d: %q vs %q", i, idsA[i], idsB[i])
		}
	}
}

func TestRun_stopsOnContextCancel(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	r, _ := newTestReplica("node-a", broker)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run must return nil on cancellation, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
