package domain

import (
	"context"
	"time"
)

// HTTPResponse is the outcome of a single GET
type HTTPResponse struct {
	StatusCode int
	// Body is nil when the server returned no body
	Body []byte
}

// OK reports whether the status code is in the 2xx range
func (r HTTPResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher defines the interface for retrieving remote album artwork
type Fetcher interface {
	// Fetch performs one GET and returns the status and body.
	// Non-2xx codes are not errors; that decision belongs to the caller.
	Fetch(ctx context.Context, url string) (HTTPResponse, error)
}

// RunResult is the outcome of a successful external command
type RunResult struct {
	// Stdout is only populated when it was requested
	Stdout string
}

// Runner defines the interface for executing external commands
type Runner interface {
	// Run executes argv to completion. A nonzero exit status is an error.
	Run(ctx context.Context, argv []string, captureStdout bool) (RunResult, error)
}

// ArtProcessor defines the interface for the cover-art pipeline
type ArtProcessor interface {
	// Process produces the standard and blurred cache slots for ref.
	// An empty ref processes the placeholder.
	Process(ctx context.Context, ref string) (ArtResult, error)

	// Init creates the working directory
	Init() error

	// Clear removes the working directory once in-flight runs finish
	Clear() error
}

// Config defines the interface for application configuration
type Config interface {
	// GetOutputDir returns the cover-art working directory
	GetOutputDir() string

	// AllowRemoteArt reports whether http/https art may be fetched
	AllowRemoteArt() bool

	// PlaceholderRef returns the file:// override for the bundled placeholder, or ""
	PlaceholderRef() string

	// MagickBinary returns the transform tool override, or ""
	MagickBinary() string

	// FetchTimeout bounds a single art download
	FetchTimeout() time.Duration

	// FetchRetries is the number of retries after the first GET
	FetchRetries() int

	// Debounce is the quiet period before art processing starts
	Debounce() time.Duration
}
