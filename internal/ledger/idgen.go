package ledger

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// nonceSize is the number of random bytes mixed into every transaction id.
const nonceSize = 16

// NewTransactionID derives a transaction id from the mutation's content plus
// a freshly drawn random nonce, and returns both the hex digest and the hex
// nonce. Two calls with identical content yield different ids. Safe for
// concurrent use; the only state touched is the process entropy source.
func NewTransactionID(nodeID, entityClass, entityID string, op Operation, fields map[string]string, ts time.Time) (id, nonce string, err error) {
	raw := make([]byte, nonceSize)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("draw nonce: %w", err)
	}
	nonce = hex.EncodeToString(raw)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s|%s|%s|%s|", nodeID, entityClass, entityID, op)
	writeFields(&buf, fields)
	fmt.Fprintf(&buf, "|%s|%s", ts.UTC().Format(time.RFC3339Nano), nonce)

	return Sha256Hex(buf.Bytes()), nonce, nil
}
