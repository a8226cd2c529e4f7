package shared

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID identifies users, groups and membership rows.
type ID struct {
	value uuid.UUID
}

// NewID creates a new random ID.
func NewID() ID {
	return ID{value: uuid.New()}
}

// IDFromString parses an ID.
func IDFromString(s string) (ID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return ID{}, fmt.Errorf("%w: invalid id %q", ErrInvalidArgument, s)
	}
	return ID{value: parsed}, nil
}

// MustIDFromString parses an ID and panics on error. Intended for fixtures.
func MustIDFromString(s string) ID {
	id, err := IDFromString(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IDsFromStrings parses a list of IDs, failing on the first malformed entry.
func IDsFromStrings(values []string) ([]ID, error) {
	ids := make([]ID, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		id, err := IDFromString(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IDFromUUID creates an ID from a uuid.UUID.
func IDFromUUID(u uuid.UUID) ID {
	return ID{value: u}
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return id.value.String()
}

// IsZero returns true if the ID is empty.
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// Equals checks if two IDs are equal.
func (id ID) Equals(other ID) bool {
	return id.value == other.value
}

// Compare orders IDs bytewise. Used for deterministic iteration.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id.value[:], other.value[:])
}

// ContainsID reports whether ids contains id.
func ContainsID(ids []ID, id ID) bool {
	for _, candidate := range ids {
		if candidate.Equals(id) {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (id ID) Value() (driver.Value, error) {
	return id.value.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		id.value = parsed
	case []byte:
		parsed, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		id.value = parsed
	default:
		return fmt.Errorf("cannot scan type %T into ID", src)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler so IDs render as strings in
// JSON and YAML output alike.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("%w: invalid id %q", ErrInvalidArgument, string(data))
	}
	id.value = parsed
	return nil
}
