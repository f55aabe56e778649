package schema

import (
	"errors"
	"fmt"
)

// Reason classifies a validation failure.
type Reason string

const (
	ReasonMissing           Reason = "missing"
	ReasonWrongType         Reason = "wrong-type"
	ReasonUnknownKey        Reason = "unknown-key"
	ReasonOutOfEnum         Reason = "out-of-enum"
	ReasonInvariantViolated Reason = "invariant-violated"
)

// SchemaError locates the first offending value of a payload.
type SchemaError struct {
	// Field is the dotted path of the value, e.g. "inverters[0].AC[1].Power.v".
	// An empty path denotes the payload itself.
	Field  string
	Reason Reason
	Detail string
}

func (e *SchemaError) Error() string {
	field := e.Field
	if field == "" {
		field = "(root)"
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: %s", field, e.Reason)
}

// AsSchemaError extracts a *SchemaError from an error chain.
func AsSchemaError(err error) (*SchemaError, bool) {
	var se *SchemaError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func fail(field string, reason Reason, format string, args ...any) *SchemaError {
	return &SchemaError{Field: field, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
