// Package hash computes hex digests of files without loading them into memory.
package hash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

// maxBufSize bounds the per-call read buffer. Files smaller than this are
// read with a buffer of their own size.
const maxBufSize = 2 * 1024 * 1024 // 2MB

// Sum streams the file at path through the digest produced by newHash and
// returns the lowercase hex digest. Errors from opening or stating the file
// are returned as-is, so callers can inspect them with errors.Is
// (fs.ErrNotExist in particular).
func Sum(path string, newHash func() hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	bufSize := info.Size()
	if bufSize > maxBufSize {
		bufSize = maxBufSize
	}

	if bufSize < 1 {
		bufSize = 1
	}

	h := newHash()
	buf := make([]byte, bufSize)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			// hash.Hash.Write never fails.
			h.Write(buf[:n])
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
