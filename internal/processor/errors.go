package processor

import (
	"errors"
	"fmt"
)

var (
	// ErrFormatNotAllowed is returned when acquired art is neither PNG nor JPEG.
	// The transform tool is never run on such content.
	ErrFormatNotAllowed = errors.New("image format not allowed")

	// ErrSuperseded is returned by a run whose request was overtaken by a newer one.
	// Its output is discarded and the cache is left to the newer run.
	ErrSuperseded = errors.New("art request superseded")
)

// AcquireError reports that an art reference could not be turned into bytes:
// unsupported scheme, unreachable host, bad status, empty body, unreadable file.
type AcquireError struct {
	Reference string
	Reason    string
	Err       error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire %q: %s: %v", e.Reference, e.Reason, e.Err)
	}
	return fmt.Sprintf("acquire %q: %s", e.Reference, e.Reason)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

// shouldFallBack selects the failures that the placeholder recovers from.
// Environment errors and cancellation are not among them.
func shouldFallBack(err error) bool {
	if errors.Is(err, ErrFormatNotAllowed) {
		return true
	}
	var acqErr *AcquireError
	return errors.As(err, &acqErr)
}
