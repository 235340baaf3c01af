// Package fields selects and digests the subset of an entity's columns that
// is destined for the ledger.
//
// Eligibility is declared statically: a Metadata carries an explicit
// Descriptor list, built once at startup, and only listed fields are ever
// read. The ledger thereby proves that a field changed without necessarily
// exposing its plaintext — unlisted columns never leave the source store.
//
// Each eligible value is rendered to a stable string, passed through the
// configured Cipher (identity by default), and stored as a hex SHA-256
// digest under the field name.
package fields
