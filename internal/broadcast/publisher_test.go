package broadcast_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/broadcast"
	"github.com/auditmesh/auditmesh/internal/ledger"
	"github.com/auditmesh/auditmesh/internal/store"
)

var ctx = context.Background()

func mkTx(t *testing.T, entityID string) *ledger.Transaction {
	t.Helper()
	tx, err := ledger.New("node-a", "User", entityID, ledger.OpSave,
		map[string]string{"email": "abc"}, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

type failingWriter struct{ err error }

func (w *failingWriter) WriteMessages(context.Context, ...kafka.Message) error { return w.err }
func (w *failingWriter) Close() error                                          { return nil }

func TestPublish_disabledIsNoop(t *testing.T) {
	local := store.NewMemory()
	p := broadcast.NewPublisher(broadcast.Config{Enabled: false}, local, zap.NewNop())

	if err := p.Publish(ctx, mkTx(t, "1")); err != nil {
		t.Fatal(err)
	}
	n, _ := local.Count(ctx)
	if n != 0 {
		t.Errorf("disabled publisher must not touch the local store, found %d rows", n)
	}
}

func TestPublish_noBrokersFallsBackToLocalStore(t *testing.T) {
	local := store.NewMemory()
	p := broadcast.NewPublisher(broadcast.Config{Enabled: true}, local, zap.NewNop())
	tx := mkTx(t, "1")

	if err := p.Publish(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if _, err := local.Get(ctx, tx.TransactionID); err != nil {
		t.Errorf("transaction not in local store: %v", err)
	}
}

func TestPublish_noBrokersNoFallbackIsConfigError(t *testing.T) {
	p := broadcast.NewPublisher(broadcast.Config{Enabled: true}, nil, zap.NewNop())
	if err := p.Publish(ctx, mkTx(t, "1")); err == nil {
		t.Error("expected configuration error")
	}
}

func TestPublish_writerErrorPropagates(t *testing.T) {
	wantErr := errors.New("broker unreachable")
	p := broadcast.NewPublisherWithWriter(
		broadcast.Config{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "ledger"},
		&failingWriter{err: wantErr},
		zap.NewNop(),
	)

	err := p.Publish(ctx, mkTx(t, "1"))
	if !errors.Is(err, wantErr) {
		t.Errorf("publish error must propagate, got %v", err)
	}
}

func TestPublish_fansOutToEveryBoundQueue(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	qa := broker.Subscribe(broadcast.QueueName("node-a"))
	qb := broker.Subscribe(broadcast.QueueName("node-b"))

	p := broadcast.NewPublisherWithWriter(
		broadcast.Config{Enabled: true, Topic: "ledger"}, broker, zap.NewNop())
	tx := mkTx(t, "1")
	if err := p.Publish(ctx, tx); err != nil {
		t.Fatal(err)
	}

	for _, q := range []*broadcast.MemoryQueue{qa, qb} {
		fctx, cancel := context.WithTimeout(ctx, time.Second)
		msg, err := q.FetchMessage(fctx)
		cancel()
		if err != nil {
			t.Fatalf("queue did not receive the message: %v", err)
		}
		got, err := ledger.Decode(msg.Value)
		if err != nil {
			t.Fatal(err)
		}
		if got.TransactionID != tx.TransactionID {
			t.Errorf("wrong transaction delivered: %q", got.TransactionID)
		}
	}
}

func TestQueueName(t *testing.T) {
	if got := broadcast.QueueName("node-a"); got != "auditmesh-ledger.node-a" {
		t.Errorf("queue name: got %q", got)
	}
}
