package prediction

import (
	"fmt"

	"github.com/tphakala/forestwatch/internal/errors"
)

var (
	// ErrClientInput marks failures caused by the requested coordinate, such
	// as no image being available for it.
	ErrClientInput = errors.NewStd("client input error")

	// ErrInternal marks every other prediction failure.
	ErrInternal = errors.NewStd("internal error")
)

// IsClientError reports whether err should be answered as a client error.
func IsClientError(err error) bool {
	return errors.Is(err, ErrClientInput)
}

// clientError and internalError keep the cause in the chain so its
// EnhancedError category stays visible to errors.As and metrics.
func clientError(cause error) error {
	return fmt.Errorf("%w: %w", ErrClientInput, cause)
}

func internalError(cause error) error {
	return fmt.Errorf("%w: %w", ErrInternal, cause)
}
