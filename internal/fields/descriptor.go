package fields

// Kind tells the extractor how to render a raw column value to its stable
// string form.
type Kind int

const (
	// KindString passes the value through as-is.
	KindString Kind = iota
	// KindInt renders any integer type in base 10.
	KindInt
	// KindFloat renders with the shortest representation that round-trips.
	KindFloat
	// KindBool renders "true" or "false".
	KindBool
	// KindTime renders in RFC 3339 with nanoseconds, normalised to UTC.
	KindTime
	// KindJSON structurally serialises everything else.
	KindJSON
)

// Descriptor marks one column as ledger-eligible and names how to render it.
type Descriptor struct {
	Name string
	Kind Kind
}

// Metadata is the static per-entity descriptor list. Entities with an empty
// Descriptors slice produce no ledger activity at all.
type Metadata struct {
	EntityClass string
	Descriptors []Descriptor
}

// Record is the storage representation of one entity row, keyed by column
// name, as handed over by the persistence layer after a committed write.
type Record map[string]any
