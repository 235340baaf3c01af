package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Operation is the kind of mutation a transaction records.
type Operation string

const (
	// OpSave covers both inserts and updates of a record.
	OpSave Operation = "save"
	// OpDelete records the removal of a record.
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	return op == OpSave || op == OpDelete
}

// Transaction is one immutable record of a captured mutation. Field values
// in Fields are already digested by the extractor; the ledger never sees
// plaintext. Signature, KeyVersion and PublicKey are placeholders for a
// future signing scheme and ride along unset.
type Transaction struct {
	TransactionID string            `json:"transactionId"`
	NodeID        string            `json:"nodeId"`
	EntityClass   string            `json:"entityClass"`
	EntityID      string            `json:"entityId"`
	Operation     Operation         `json:"operation"`
	Fields        map[string]string `json:"fields"`
	Timestamp     time.Time         `json:"timestamp"`
	Nonce         string            `json:"nonce"`
	Signature     string            `json:"signature,omitempty"`
	KeyVersion    string            `json:"keyVersion,omitempty"`
	PublicKey     string            `json:"publicKey,omitempty"`
	SnapshotHash  string            `json:"snapshotHash,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// New builds a Transaction for the given mutation, drawing a fresh nonce and
// deriving the transaction id from all inputs plus that nonce.
func New(nodeID, entityClass, entityID string, op Operation, fields map[string]string, ts time.Time) (*Transaction, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	id, nonce, err := NewTransactionID(nodeID, entityClass, entityID, op, fields, ts)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		TransactionID: id,
		NodeID:        nodeID,
		EntityClass:   entityClass,
		EntityID:      entityID,
		Operation:     op,
		Fields:        fields,
		Timestamp:     ts.UTC(),
		Nonce:         nonce,
	}, nil
}

// Canonical returns the deterministic byte encoding of the transaction used
// for Merkle leaf hashing. Fields are emitted in sorted key order so that
// equal transactions always encode identically.
func (t *Transaction) Canonical() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s|%s|%s|%s|%s|", t.TransactionID, t.NodeID, t.EntityClass, t.EntityID, t.Operation)
	writeFields(&buf, t.Fields)
	fmt.Fprintf(&buf, "|%s|%s|%s", t.Timestamp.UTC().Format(time.RFC3339Nano), t.Nonce, t.SnapshotHash)
	return buf.Bytes()
}

// Encode serializes the transaction to its JSON wire form.
func (t *Transaction) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload produced by Encode. A payload without a
// transaction id is rejected: it cannot be stored idempotently.
func Decode(data []byte) (*Transaction, error) {
	t := &Transaction{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if t.TransactionID == "" {
		return nil, fmt.Errorf("decode transaction: missing transactionId")
	}
	if !t.Operation.Valid() {
		return nil, fmt.Errorf("decode transaction: unknown operation %q", t.Operation)
	}
	return t, nil
}

// writeFields emits k=v pairs joined by commas, keys sorted.
func writeFields(buf *bytes.Buffer, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(fields[k])
	}
}

// Sha256Hex returns the hex-encoded SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
