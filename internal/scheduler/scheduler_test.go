package scheduler

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WSH032/booru-dl/internal/booru"
	"github.com/WSH032/booru-dl/internal/progress"
	"github.com/WSH032/booru-dl/internal/transfer"
)

const testContent = "The quick brown fox jumps over the lazy dog"

func md5Hex(content string) string {
	sum := md5.Sum([]byte(content))

	return hex.EncodeToString(sum[:])
}

// fileServer serves testContent on every request and counts the hits.
type fileServer struct {
	srv  *httptest.Server
	hits atomic.Int64
}

func newFileServer(t *testing.T) *fileServer {
	t.Helper()

	fs := &fileServer{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		w.Write([]byte(testContent))
	}))
	t.Cleanup(fs.srv.Close)

	return fs
}

func testPost(id uint64, fileURL string) booru.Post {
	return booru.Post{
		ID:      id,
		MD5:     md5Hex(testContent),
		FileURL: fileURL,
		Tags:    "foo bar",
		Image:   "original.jpg",
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1234.jpg")
	require.NoError(t, os.WriteFile(path, []byte(testContent), 0644))

	existed, err := fileExists(path, md5Hex(testContent))
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = fileExists(path, "wrong md5")
	require.NoError(t, err)
	assert.False(t, existed)

	// Absence is a valid "needs download" answer, not an error.
	existed, err = fileExists(filepath.Join(dir, "no_such_file"), "whatever md5")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestFileExists_CaseInsensitiveHex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1234.jpg")
	require.NoError(t, os.WriteFile(path, []byte(testContent), 0644))

	upper := md5Hex(testContent)

	existed, err := fileExists(path, "9E107D9D372BB6826BD81D3542A419D6")
	require.NoError(t, err)
	assert.True(t, existed, "expected %s to match case-insensitively", upper)
}

// Scenario: one post, file absent locally.
func TestRun_DownloadsAbsentFile(t *testing.T) {
	fs := newFileServer(t)
	dir := t.TempDir()

	s := New(fs.srv.Client(), dir, 4)
	s.Output = &bytes.Buffer{}

	status, err := s.Run(context.Background(), []booru.Post{testPost(1234, fs.srv.URL)})
	require.NoError(t, err)
	assert.Equal(t, Status{Done: 1}, status)

	content, err := os.ReadFile(filepath.Join(dir, "1234.jpg"))
	require.NoError(t, err)
	assert.Equal(t, testContent, string(content))

	// The sidecar carries the tags with separators normalized.
	tags, err := os.ReadFile(filepath.Join(dir, "1234.txt"))
	require.NoError(t, err)
	assert.Equal(t, "foo, bar", string(tags))
}

// Scenario: the target file already exists with a matching hash, so no
// network transfer may happen.
func TestRun_SkipsExistingFile(t *testing.T) {
	fs := newFileServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1234.jpg"), []byte(testContent), 0644))

	s := New(fs.srv.Client(), dir, 4)
	s.Output = &bytes.Buffer{}

	status, err := s.Run(context.Background(), []booru.Post{testPost(1234, fs.srv.URL)})
	require.NoError(t, err)
	assert.Equal(t, Status{Existed: 1}, status)
	assert.Equal(t, int64(0), fs.hits.Load())
}

// A filename collision with a mismatched hash is "needs re-download": the
// stale file is overwritten.
func TestRun_RedownloadsOnHashMismatch(t *testing.T) {
	fs := newFileServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1234.jpg"), []byte("stale"), 0644))

	s := New(fs.srv.Client(), dir, 4)
	s.Output = &bytes.Buffer{}

	status, err := s.Run(context.Background(), []booru.Post{testPost(1234, fs.srv.URL)})
	require.NoError(t, err)
	assert.Equal(t, Status{Done: 1}, status)

	content, err := os.ReadFile(filepath.Join(dir, "1234.jpg"))
	require.NoError(t, err)
	assert.Equal(t, testContent, string(content))
	assert.Equal(t, int64(1), fs.hits.Load())
}

// Scenario: the download fails with HTTP 500. The item is counted as failed,
// a diagnostic names its destination path, and the run still succeeds.
func TestRun_IsolatesItemFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	out := &bytes.Buffer{}

	s := New(srv.Client(), dir, 4)
	s.Output = out

	status, err := s.Run(context.Background(), []booru.Post{testPost(1234, srv.URL)})
	require.NoError(t, err)
	assert.Equal(t, Status{Failed: 1}, status)
	assert.Contains(t, out.String(), filepath.Join(dir, "1234.jpg"))
}

// Scenario: 101 posts with a concurrency cap of 8. Every post yields exactly
// one outcome and the cap is never exceeded.
func TestRun_BoundedConcurrency(t *testing.T) {
	const (
		numPosts    = 101
		maxParallel = 8
	)

	var inFlight, peak atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}

		time.Sleep(2 * time.Millisecond)
		w.Write([]byte(testContent))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()

	posts := make([]booru.Post, 0, numPosts)
	for i := uint64(1); i <= numPosts; i++ {
		posts = append(posts, testPost(i, fmt.Sprintf("%s/%d.jpg", srv.URL, i)))
	}

	s := New(srv.Client(), dir, maxParallel)
	s.Output = &bytes.Buffer{}

	status, err := s.Run(context.Background(), posts)
	require.NoError(t, err)

	assert.Equal(t, uint64(numPosts), status.Processed())
	assert.Equal(t, Status{Done: numPosts}, status)
	assert.LessOrEqual(t, peak.Load(), int64(maxParallel))

	for i := uint64(1); i <= numPosts; i++ {
		assert.FileExists(t, filepath.Join(dir, fmt.Sprintf("%d.jpg", i)))
		assert.FileExists(t, filepath.Join(dir, fmt.Sprintf("%d.txt", i)))
	}
}

// panicTripper stands in for a programming error inside a task: every
// request panics instead of returning a response or an error.
type panicTripper struct{}

func (panicTripper) RoundTrip(*http.Request) (*http.Response, error) {
	panic("transport exploded")
}

// A panic inside a task is a bug, not a download failure: it must abort the
// run with an error carrying the panic value, never be counted as failed.
func TestRun_TaskPanicIsFatal(t *testing.T) {
	dir := t.TempDir()

	s := New(&http.Client{Transport: panicTripper{}}, dir, 4)
	s.Output = &bytes.Buffer{}

	status, err := s.Run(context.Background(), []booru.Post{testPost(1234, "http://example.invalid/original.jpg")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Contains(t, err.Error(), "transport exploded")
	assert.Contains(t, err.Error(), "goroutine")
	assert.Equal(t, Status{}, status)
}

func TestSpeedOf(t *testing.T) {
	tests := []struct {
		name    string
		n       uint64
		elapsed time.Duration
		want    uint64
	}{
		{"one second", 2_000_000, time.Second, 2_000_000},
		{"quarter second", 500_000, 250 * time.Millisecond, 2_000_000},
		{"idle tick", 0, time.Second, 0},
		{"sub-millisecond elapsed", 1_000_000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, speedOf(tt.n, tt.elapsed))
		})
	}
}

// Bytes accrued before the sampler starts belong to no measured interval and
// must never be rendered as a rate. The sampler also has to stop once the
// counter is closed.
func TestSampleSpeed_DiscardsInitialBytes(t *testing.T) {
	out := &bytes.Buffer{}
	bar := progress.NewBar(out, 1)
	counter := transfer.NewByteCounter()

	// Half a GiB drained over a few milliseconds would render in the GB/s
	// range if the first drain were not discarded.
	counter.Add(512 * 1024 * 1024)

	done := make(chan struct{})

	go func() {
		defer close(done)
		sampleSpeed(bar, counter, 20*time.Millisecond)
	}()

	time.Sleep(70 * time.Millisecond)
	counter.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler kept running after the counter was closed")
	}

	assert.NotContains(t, out.String(), "GB")
}

// An interrupted run drains every task as failed instead of hanging.
func TestRun_CancelledContext(t *testing.T) {
	fs := newFileServer(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(fs.srv.Client(), dir, 4)
	s.Output = &bytes.Buffer{}

	posts := make([]booru.Post, 0, 5)
	for i := uint64(1); i <= 5; i++ {
		posts = append(posts, testPost(i, fs.srv.URL))
	}

	status, err := s.Run(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), status.Failed)
}

func TestRun_BadDownloadDirIsFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	s := New(http.DefaultClient, filepath.Join(blocker, "sub"), 4)
	s.Output = &bytes.Buffer{}

	_, err := s.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download directory")
}
