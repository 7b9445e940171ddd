package transfer

import (
	"errors"
	"fmt"
)

// ErrZeroContentLength is returned when the server declares a content length
// of exactly zero. The response is valid but there is nothing to download.
var ErrZeroContentLength = errors.New("there is no content to download")

// StatusError represents a non-success HTTP response from the file host.
type StatusError struct {
	URL        string // The URL that was requested
	StatusCode int    // The HTTP status code returned by the server
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d downloading %s", e.StatusCode, e.URL)
}

// AllocationError represents a failure to pre-allocate disk space for a
// download with a known content length. The usual cause is a full disk, so
// callers report it separately from generic I/O errors.
type AllocationError struct {
	Path string // Destination file that could not be allocated
	Size int64  // Requested allocation in bytes
	Err  error  // Underlying error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("failed to allocate %d bytes for %s: %s", e.Size, e.Path, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}
