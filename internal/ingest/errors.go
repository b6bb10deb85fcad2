package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every error returned by an importer matches exactly one
// of these with errors.Is, or is a store/context error passed through.
var (
	// ErrReferenceNotFound means a username or product name in the input has
	// no matching store record.
	ErrReferenceNotFound = errors.New("reference not found")

	// ErrMalformedInput means a row or header is incompatible with the
	// target schema.
	ErrMalformedInput = errors.New("malformed input")

	// ErrSizeLimitExceeded means the payload is larger than allowed.
	ErrSizeLimitExceeded = errors.New("file too large")

	// ErrUnsupportedEncoding means the declared text encoding is unknown.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

// Reference failures, distinguishable by entity.
var (
	ErrUserNotFound     = fmt.Errorf("user %w", ErrReferenceNotFound)
	ErrProductNotFound  = fmt.Errorf("product %w", ErrReferenceNotFound)
	ErrAmbiguousProduct = fmt.Errorf("ambiguous product name, %w", ErrReferenceNotFound)
)

// RowError reports the first row an import could not ingest.
type RowError struct {
	Line   int    // 1-indexed line in the source file, 0 for header problems
	Column string // Column the bad value came from, if any
	Value  string // Offending value, if any
	Err    error
}

func (e *RowError) Error() string {
	var b strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	} else {
		b.WriteString("header: ")
	}
	if e.Column != "" {
		fmt.Fprintf(&b, "column %q", e.Column)
		if e.Value != "" {
			fmt.Fprintf(&b, " value %q", e.Value)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *RowError) Unwrap() error { return e.Err }

// malformed builds a RowError in the MalformedInput category.
func malformed(line int, column, value, format string, args ...any) *RowError {
	return &RowError{
		Line:   line,
		Column: column,
		Value:  value,
		Err:    fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...)),
	}
}
