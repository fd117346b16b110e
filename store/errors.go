package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every *ConfigError.
	ErrConfiguration = errors.New("docstore: invalid configuration")

	// ErrStaleData is returned when a conditional write carries an etag that no longer
	// matches the stored document.
	ErrStaleData = errors.New("docstore: document was modified concurrently")

	// ErrMissingDocument is returned when the requested document does not exist.
	ErrMissingDocument = errors.New("docstore: document not found")

	// ErrConflict is returned when a document with the same identity or unique key exists.
	ErrConflict = errors.New("docstore: document already exists")

	// ErrInvalidArgument is returned for invalid call input (nil query, malformed document).
	ErrInvalidArgument = errors.New("docstore: invalid argument")
)

// ConfigError reports an invalid or missing connection or collection setting.
type ConfigError struct {
	// Field is the configuration path at fault (e.g. "endpoint", "databases.orders").
	Field string

	// Reason describes what is wrong with the field.
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("docstore: invalid configuration: %s %s", e.Field, e.Reason)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

func configError(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

// translated pairs a sentinel with the underlying failure it was derived from,
// so callers can match either with errors.Is / errors.As.
type translated struct {
	kind  error
	cause error
}

func (e *translated) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *translated) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func translate(kind, cause error) error {
	return &translated{kind: kind, cause: cause}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
