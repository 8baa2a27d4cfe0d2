// FILE: lixenwraith/cornflakes/errors.go
package cornflakes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingRequired is matched by MissingFieldsError
	ErrMissingRequired = errors.New("missing required config values")
	// ErrEmptySource is matched by EmptySourceError
	ErrEmptySource = errors.New("config source is empty")
	// ErrSourceNotFound is matched by SourceNotFoundError
	ErrSourceNotFound = errors.New("config source not found")
	// ErrConstruction is matched by ConstructionError
	ErrConstruction = errors.New("config record construction failed")
	// ErrInvalidSchema is returned when a schema violates its field invariants
	ErrInvalidSchema = errors.New("invalid config schema")
)

// MissingFieldsError reports required fields that no source supplied.
// Callers can fall back to disabling auto-loading and constructing records manually.
type MissingFieldsError struct {
	Schema  string
	Missing []string
	Files   []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required values for keys [%s] for schema %s in configs [%s]",
		strings.Join(e.Missing, ", "), e.Schema, strings.Join(e.Files, ", "))
}

// Is reports whether the target is ErrMissingRequired.
func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingRequired
}

// EmptySourceError reports an effective locator that yielded no sections or keys.
type EmptySourceError struct {
	Schema   string
	Files    []string
	Sections []string
}

func (e *EmptySourceError) Error() string {
	msg := fmt.Sprintf("config for schema %s is empty in configs [%s]", e.Schema, strings.Join(e.Files, ", "))
	if len(e.Sections) > 0 {
		msg += fmt.Sprintf(" (sections [%s])", strings.Join(e.Sections, ", "))
	}
	return msg
}

// Is reports whether the target is ErrEmptySource.
func (e *EmptySourceError) Is(target error) bool {
	return target == ErrEmptySource
}

// SourceNotFoundError reports that none of the locator paths exist.
type SourceNotFoundError struct {
	Files []string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("none of the config files [%s] exist", strings.Join(e.Files, ", "))
}

// Is reports whether the target is ErrSourceNotFound.
func (e *SourceNotFoundError) Is(target error) bool {
	return target == ErrSourceNotFound
}

// ConstructionError reports values a record cannot be built from: a failed
// coercion or validator for Field, or keys the schema does not declare.
type ConstructionError struct {
	Schema  string
	Field   string
	Unknown []string
	Err     error
}

func (e *ConstructionError) Error() string {
	switch {
	case len(e.Unknown) > 0:
		return fmt.Sprintf("schema %s does not accept keys [%s]", e.Schema, strings.Join(e.Unknown, ", "))
	case e.Field != "":
		return fmt.Sprintf("schema %s field %s: %v", e.Schema, e.Field, e.Err)
	default:
		return fmt.Sprintf("schema %s: %v", e.Schema, e.Err)
	}
}

// Is reports whether the target is ErrConstruction.
func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstruction
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}
