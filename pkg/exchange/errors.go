package exchange

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/page-exchange/pkg/buffer"
)

// Errors returned by the exchange client.
var (
	// ErrClosed is returned when the client is used after Close or after it
	// reached its terminal state.
	ErrClosed = errors.New("exchange client is closed")

	// ErrNoMoreLocations is returned by AddLocation after NoMoreLocations.
	ErrNoMoreLocations = errors.New("no more locations expected")

	// ErrInvalidLocation is returned for locations that are not absolute URIs.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrLocationFailed is wrapped by every LocationError.
	ErrLocationFailed = errors.New("location failed")

	// ErrRetryExhausted is wrapped when a location ran out of attempts.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// LocationError is the terminal failure of one location. It fails the
// whole exchange.
type LocationError struct {
	Location  string
	Attempts  int
	Class     buffer.ErrorClass
	Exhausted bool
	Err       error
}

// Error implements the error interface.
func (e *LocationError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("location %s failed after %d attempts (%s): %v",
			e.Location, e.Attempts, e.Class, e.Err)
	}
	return fmt.Sprintf("location %s failed (%s): %v", e.Location, e.Class, e.Err)
}

// Unwrap exposes ErrLocationFailed, ErrRetryExhausted when applicable, and
// the underlying transport error.
func (e *LocationError) Unwrap() []error {
	errs := []error{ErrLocationFailed}
	if e.Exhausted {
		errs = append(errs, ErrRetryExhausted)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
