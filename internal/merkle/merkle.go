// Package merkle computes a deterministic root hash over an ordered batch of
// ledger transactions. The root is sensitive to both content and order, so
// two nodes that hold the same transactions in the same order — and only
// then — agree on it. Comparing roots across nodes is the cheap way to spot
// a ledger gap without shipping the ledgers themselves.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/auditmesh/auditmesh/internal/ledger"
)

// EmptyRoot is the defined sentinel for a zero-transaction batch: the hex
// SHA-256 of the empty string.
var EmptyRoot = sha256Hex(nil)

// BuildRoot computes the Merkle root of txs in the given order. Leaves are
// the SHA-256 digests of each transaction's canonical encoding; levels are
// built bottom-up by hashing the concatenation of adjacent pairs, with an
// odd level's last hash paired with itself.
func BuildRoot(txs []*ledger.Transaction) string {
	if len(txs) == 0 {
		return EmptyRoot
	}

	level := make([]string, len(txs))
	for i, tx := range txs {
		level[i] = sha256Hex(tx.Canonical())
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			next = append(next, sha256Hex([]byte(level[i]+level[i+1])))
		}
		level = next
	}
	return level[0]
}

// VerifyRoot recomputes the root of txs and reports whether it equals
// expected. Callers must pass the batch in its original append order.
func VerifyRoot(txs []*ledger.Transaction, expected string) bool {
	return BuildRoot(txs) == expected
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
