package layers

import (
	"errors"
	"fmt"

	"visor/core-go/internal/catalog"
)

var (
	// ErrMissingSource means no location is configured for the key.
	ErrMissingSource = errors.New("no source configured")
	// ErrMissingDependency means a collaborator needed to build the layer is not available.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrUnknownLayer means the key is not in the catalog.
	ErrUnknownLayer = errors.New("unknown layer")
)

// ParseError wraps a payload that could not be turned into a layer.
type ParseError struct {
	Key catalog.Key
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
