// Package ledger defines the Transaction value object — one immutable record
// of a captured persistence-layer mutation — together with its canonical byte
// encoding, the JSON wire codec, and the nonce-randomized transaction id.
//
// A transaction id is the hex SHA-256 of the transaction's semantic content
// plus a fresh random nonce. The nonce makes every generated id unique even
// when two mutations carry identical content, so ids are NOT content
// addresses: they identify an event, not a state.
package ledger
