package core

import (
	"bytes"

	"github.com/google/uuid"
)

// ID is the stable, immutable key of one logical data item.
//
// It is independent of the item's physical filename and container format.
// Invariant: an item's ID never changes across migrations or conversions.
type ID uuid.UUID

// NilID is the zero identifier.
var NilID ID

// NewID returns a fresh random identifier.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical textual form of an identifier.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilID, err
	}
	return ID(u), nil
}

// MustParseID is like ParseID but panics on error. Intended for tests and constants.
func MustParseID(s string) ID {
	return ID(uuid.MustParse(s))
}

// String returns the canonical lowercase textual form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the nil identifier.
func (id ID) IsZero() bool {
	return id == NilID
}

// Compare orders identifiers bytewise, returning -1, 0 or +1.
func (id ID) Compare(o ID) int {
	return bytes.Compare(id[:], o[:])
}

// Less orders identifiers bytewise.
func (id ID) Less(o ID) bool {
	return id.Compare(o) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
