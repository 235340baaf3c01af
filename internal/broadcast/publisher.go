package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/ledger"
	"github.com/auditmesh/auditmesh/internal/metrics"
	"github.com/auditmesh/auditmesh/internal/store"
)

// Config holds the publisher's broadcast-channel settings. With Enabled
// false the publisher is a no-op; with Enabled true but no brokers it
// appends directly to the local store (single-node/offline mode).
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// Publisher delivers transactions to the broadcast channel. It must only be
// invoked after the originating datastore write has committed: publishing
// first risks a ledger entry for a mutation that never took effect.
type Publisher struct {
	cfg      Config
	log      *zap.Logger
	fallback store.Store

	mu     sync.Mutex
	writer MessageWriter
}

// NewPublisher creates a Publisher. fallback receives transactions directly
// when no brokers are configured; it may be nil when brokers are set.
func NewPublisher(cfg Config, fallback store.Store, log *zap.Logger) *Publisher {
	return &Publisher{cfg: cfg, fallback: fallback, log: log}
}

// NewPublisherWithWriter creates a Publisher over an externally constructed
// writer (an in-memory broker, or a pre-built kafka writer).
func NewPublisherWithWriter(cfg Config, w MessageWriter, log *zap.Logger) *Publisher {
	return &Publisher{cfg: cfg, writer: w, log: log}
}

// Publish delivers tx. A connection failure propagates as an error — a lost
// publish is a silent, undetectable gap in the audit trail.
func (p *Publisher) Publish(ctx context.Context, tx *ledger.Transaction) error {
	if !p.cfg.Enabled {
		p.log.Debug("ledger disabled, dropping publish",
			zap.String("transaction_id", tx.TransactionID),
		)
		return nil
	}

	w, err := p.broadcastWriter()
	if err != nil {
		return err
	}
	if w == nil {
		// Single-node/offline mode: append straight to the local ledger.
		if _, err := p.fallback.Append(ctx, tx); err != nil {
			metrics.PublishFailures.Inc()
			return fmt.Errorf("local ledger append: %w", err)
		}
		metrics.TransactionsPublished.Inc()
		return nil
	}

	data, err := tx.Encode()
	if err != nil {
		metrics.PublishFailures.Inc()
		return err
	}
	// No key: routing is broadcast, every bound queue gets every message.
	if err := w.WriteMessages(ctx, kafka.Message{Value: data}); err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("publish transaction %s: %w", tx.TransactionID, err)
	}

	metrics.TransactionsPublished.Inc()
	p.log.Debug("transaction published",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("entity_class", tx.EntityClass),
		zap.String("operation", string(tx.Operation)),
	)
	return nil
}

// broadcastWriter lazily establishes and caches the channel connection.
// It returns nil when the publisher should use the local fallback instead.
func (p *Publisher) broadcastWriter() (MessageWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer != nil {
		return p.writer, nil
	}
	if len(p.cfg.Brokers) == 0 {
		if p.fallback == nil {
			return nil, fmt.Errorf("no brokers configured and no local ledger store")
		}
		return nil, nil
	}

	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(p.cfg.Brokers...),
		Topic:                  p.cfg.Topic,
		Balancer:               &kafka.RoundRobin{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	p.log.Info("broadcast channel connected",
		zap.Strings("brokers", p.cfg.Brokers),
		zap.String("topic", p.cfg.Topic),
	)
	return p.writer, nil
}

// Close releases the cached channel connection, if any.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}
