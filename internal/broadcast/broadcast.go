// Package broadcast moves serialized transactions between nodes with
// at-least-once, fanout semantics.
//
// The channel is a single shared Kafka topic. Each node binds its own
// consumer group — the queue — so every node receives every published
// message, including the publisher itself when it also consumes. An ack is
// an offset commit; a negative ack is simply not committing, which leaves
// the message to broker redelivery. Delivery gaps are therefore only ever
// caused by a publish that failed, which is why publish errors always
// propagate instead of being swallowed.
package broadcast

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageFetcher is the subset of *kafka.Reader a consumer binding needs.
type MessageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// QueueName derives a node's queue (consumer group) name from its id.
func QueueName(nodeID string) string {
	return "auditmesh-ledger." + nodeID
}

// NewKafkaFetcher binds a consumer group to the shared topic. Reading starts
// from the earliest retained offset so a fresh node backfills the ledger.
func NewKafkaFetcher(brokers []string, topic, queue string) MessageFetcher {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     queue,
		Topic:       topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}
