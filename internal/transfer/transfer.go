// Package transfer fetches a single remote file to local disk, streaming the
// body and reporting written bytes to a shared counter.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Request describes one file transfer.
type Request struct {
	// URL is the HTTP(S) source of the file.
	URL string
	// Path is the destination file. An existing file is overwritten.
	Path string
	// Counter, when non-nil, receives the byte length of every chunk after
	// it has been written to disk. A closed counter drops the increments.
	Counter *ByteCounter
}

// Fetch downloads req.URL to req.Path and returns the destination path.
//
// A declared content length of zero fails with ErrZeroContentLength. A known
// content length is pre-allocated up front; allocation failure (disk full)
// fails with *AllocationError. Non-2xx responses fail with *StatusError. The
// file is synced before Fetch returns, so a reader immediately after success
// sees complete content.
func Fetch(ctx context.Context, client *http.Client, req Request) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to request %s: %w", req.URL, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &StatusError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	if resp.ContentLength == 0 {
		return "", ErrZeroContentLength
	}

	out, err := os.Create(req.Path)
	if err != nil {
		return "", fmt.Errorf("failed to create target file: %w", err)
	}

	defer out.Close()

	if resp.ContentLength > 0 {
		if err := out.Truncate(resp.ContentLength); err != nil {
			return "", &AllocationError{Path: req.Path, Size: resp.ContentLength, Err: err}
		}
	}

	// The counter comes after the file in the write chain so a chunk is only
	// counted once it is on disk.
	var dst io.Writer = out
	if req.Counter != nil {
		dst = io.MultiWriter(out, req.Counter)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", req.Path, err)
	}

	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync %s: %w", req.Path, err)
	}

	return req.Path, nil
}
