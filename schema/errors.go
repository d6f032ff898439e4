package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned when no schema is registered for a type name.
	ErrUnknownType = errors.New("schema: unknown type")
	// ErrUnsupportedVersion is returned for versions newer than the registry
	// knows or older than the first version.
	ErrUnsupportedVersion = errors.New("schema: unsupported version")
	// ErrMigrationFailure is returned when a record does not satisfy a
	// version contract or a migration step rejects it.
	ErrMigrationFailure = errors.New("schema: migration failure")
	// ErrInvalidSchema is returned by Build for inconsistent definitions.
	ErrInvalidSchema = errors.New("schema: invalid definition")
)

// MigrationError describes a failed decode or migration of one record.
type MigrationError struct {
	Type string
	From int
	To   int
	Err  error
}

func (e *MigrationError) Error() string {
	switch {
	case e.Type == "":
		return fmt.Sprintf("decode record: %v", e.Err)
	case e.To > 0:
		return fmt.Sprintf("migrate %s v%d->v%d: %v", e.Type, e.From, e.To, e.Err)
	default:
		return fmt.Sprintf("migrate %s v%d: %v", e.Type, e.From, e.Err)
	}
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
