package stack

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrEmptyInput         = errors.New("empty compose input")
	ErrInvalidYAML        = errors.New("invalid YAML")
	ErrNoServices         = errors.New("no services defined")
	ErrServiceNoImage     = errors.New("service has no image")
	ErrCircularDependency = errors.New("circular dependency")
)

// ParseError wraps a parse failure with the offending path.
type ParseError struct {
	Path    string // e.g. "services.api"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError creates a ParseError.
func NewParseError(path, message string, err error) *ParseError {
	return &ParseError{Path: path, Message: message, Err: err}
}
