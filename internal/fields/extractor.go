package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/auditmesh/auditmesh/internal/ledger"
)

// ErrUnknownField is returned when a descriptor names a column the record
// does not carry. That is a configuration error: the descriptor list and
// the schema have drifted apart, and retrying cannot fix it.
var ErrUnknownField = errors.New("descriptor names a field the record does not have")

// Extractor turns entity records into digested field maps.
type Extractor struct {
	cipher Cipher
}

// NewExtractor creates an Extractor using the given cipher. A nil cipher
// means the identity passthrough.
func NewExtractor(cipher Cipher) *Extractor {
	if cipher == nil {
		cipher = Identity{}
	}
	return &Extractor{cipher: cipher}
}

// Extract reads exactly the columns listed in meta.Descriptors from rec,
// renders each to its stable string form, seals it with the cipher, and
// digests the result. The returned map is keyed by field name. An entity
// with no descriptors yields an empty map.
func (e *Extractor) Extract(rec Record, meta *Metadata) (map[string]string, error) {
	out := make(map[string]string, len(meta.Descriptors))
	for _, d := range meta.Descriptors {
		raw, ok := rec[d.Name]
		if !ok {
			return nil, fmt.Errorf("%s.%s: %w", meta.EntityClass, d.Name, ErrUnknownField)
		}
		rendered, err := render(raw, d.Kind)
		if err != nil {
			return nil, fmt.Errorf("render %s.%s: %w", meta.EntityClass, d.Name, err)
		}
		sealed, err := e.cipher.Seal([]byte(rendered))
		if err != nil {
			return nil, fmt.Errorf("seal %s.%s: %w", meta.EntityClass, d.Name, err)
		}
		out[d.Name] = ledger.Sha256Hex(sealed)
	}
	return out, nil
}

// render produces the stable string form of one raw column value.
func render(v any, kind Kind) (string, error) {
	if v == nil {
		return "", nil
	}
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindInt:
		switch n := v.(type) {
		case int:
			return strconv.FormatInt(int64(n), 10), nil
		case int32:
			return strconv.FormatInt(int64(n), 10), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case uint64:
			return strconv.FormatUint(n, 10), nil
		default:
			return "", fmt.Errorf("expected integer, got %T", v)
		}
	case KindFloat:
		switch f := v.(type) {
		case float32:
			return strconv.FormatFloat(float64(f), 'g', -1, 32), nil
		case float64:
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		default:
			return "", fmt.Errorf("expected float, got %T", v)
		}
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return "", fmt.Errorf("expected bool, got %T", v)
		}
		return strconv.FormatBool(b), nil
	case KindTime:
		ts, ok := v.(time.Time)
		if !ok {
			return "", fmt.Errorf("expected time.Time, got %T", v)
		}
		return ts.UTC().Format(time.RFC3339Nano), nil
	case KindJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal value: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown kind %d", kind)
	}
}
