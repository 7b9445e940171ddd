// Package scheduler coordinates the concurrent download of a post listing:
// bounded parallelism, existing-file detection by content hash, per-item
// failure isolation, and live progress with throughput.
package scheduler

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/WSH032/booru-dl/internal/booru"
	"github.com/WSH032/booru-dl/internal/hash"
	"github.com/WSH032/booru-dl/internal/logctx"
	"github.com/WSH032/booru-dl/internal/progress"
	"github.com/WSH032/booru-dl/internal/transfer"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	// tagExt is the extension of the sidecar file carrying a post's tags.
	tagExt = ".txt"

	// speedInterval is how often the sampler converts the byte counter into
	// a displayed rate.
	speedInterval = time.Second
)

// Status holds the running outcome totals of one run. The aggregation loop
// is its only writer.
type Status struct {
	Done    uint64
	Existed uint64
	Failed  uint64
}

// Processed returns the number of items that produced an outcome.
func (s Status) Processed() uint64 {
	return s.Done + s.Existed + s.Failed
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeExisted
)

// taskFault carries a panic out of a download task. It is a programming
// error, never an expected download failure.
type taskFault struct {
	value any
	stack []byte
}

// taskResult is the single message every task delivers to the aggregator.
type taskResult struct {
	outcome outcome
	err     error
	fault   *taskFault
}

// Scheduler downloads a post listing into a local directory.
type Scheduler struct {
	client      *http.Client
	downloadDir string
	maxParallel int

	// Output receives the progress rendering. Defaults to os.Stderr.
	Output io.Writer
}

// New builds a scheduler. maxParallel bounds simultaneous in-flight items;
// values below 1 are clamped to 1. The bound exists because the existing-file
// check holds a hashing buffer per task, so unbounded fan-out would multiply
// that footprint.
func New(client *http.Client, downloadDir string, maxParallel int) *Scheduler {
	if client == nil {
		client = http.DefaultClient
	}

	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Scheduler{
		client:      client,
		downloadDir: downloadDir,
		maxParallel: maxParallel,
	}
}

// fileExists reports whether path already holds content with the wanted MD5.
// A missing file is a valid "needs download" answer, not an error.
func fileExists(path, wantMD5 string) (bool, error) {
	sum, err := hash.Sum(path, md5.New)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	return strings.EqualFold(sum, wantMD5), nil
}

// Run downloads every post and returns the final outcome totals.
//
// Individual item failures are counted and reported through the progress
// display; they never fail the run. Run returns an error only for setup
// failures (the download directory cannot be created) or when a task
// terminates without delivering an outcome, which indicates a bug.
func (s *Scheduler) Run(ctx context.Context, posts []booru.Post) (Status, error) {
	if err := os.MkdirAll(s.downloadDir, dirPerm); err != nil {
		return Status{}, fmt.Errorf("failed to create download directory: %w", err)
	}

	logger := logctx.LoggerFromContext(ctx)

	bar := progress.NewBar(s.Output, len(posts))
	counter := transfer.NewByteCounter()
	sem := semaphore.NewWeighted(int64(s.maxParallel))
	// Buffered so tasks can always deliver their result, even if the
	// aggregation loop bails out early on a fault.
	results := make(chan taskResult, len(posts))

	for _, post := range posts {
		go s.downloadOne(ctx, post, sem, counter, results)
	}

	logger.Debug("download tasks arranged", "count", len(posts), "max_parallel", s.maxParallel)

	// The sampler starts only after all tasks are arranged, otherwise the
	// displayed speed could move while the progress position does not.
	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		sampleSpeed(bar, counter, speedInterval)
	}()

	var status Status

	for range posts {
		res := <-results

		if res.fault != nil {
			counter.Close()
			bar.Finish()
			wg.Wait()

			return status, fmt.Errorf("download task panicked: %v\n%s", res.fault.value, res.fault.stack)
		}

		switch {
		case res.err != nil:
			status.Failed++

			bar.Println(res.err.Error())
		case res.outcome == outcomeExisted:
			status.Existed++
		default:
			status.Done++
		}

		bar.Advance(status.Done, status.Existed, status.Failed)
	}

	counter.Close()
	bar.Finish()
	wg.Wait()

	logger.Info("downloads finished",
		"done", status.Done,
		"existed", status.Existed,
		"failed", status.Failed,
	)

	return status, nil
}

// downloadOne is the task boundary: it guarantees exactly one result reaches
// the aggregator, turning a panic into a fault result instead of a lost task.
func (s *Scheduler) downloadOne(
	ctx context.Context,
	post booru.Post,
	sem *semaphore.Weighted,
	counter *transfer.ByteCounter,
	results chan<- taskResult,
) {
	var res taskResult

	// Registered before any other defer so it runs last, after the permit
	// has been released.
	defer func() {
		if r := recover(); r != nil {
			res = taskResult{fault: &taskFault{value: r, stack: debug.Stack()}}
		}

		results <- res
	}()

	res = s.processPost(ctx, post, sem, counter)
}

// processPost performs the unit of work for one post: permit, existing-file
// check, transfer, tag sidecar.
func (s *Scheduler) processPost(
	ctx context.Context,
	post booru.Post,
	sem *semaphore.Weighted,
	counter *transfer.ByteCounter,
) taskResult {
	path := filepath.Join(s.downloadDir, post.Filename())

	if err := sem.Acquire(ctx, 1); err != nil {
		return taskResult{err: fmt.Errorf("download aborted: %s: %w", path, err)}
	}

	defer sem.Release(1)

	existed, err := fileExists(path, post.MD5)
	if err != nil {
		return taskResult{err: fmt.Errorf("failed to check if file already exists: %s: %w", path, err)}
	}

	if existed {
		return taskResult{outcome: outcomeExisted}
	}

	if _, err := transfer.Fetch(ctx, s.client, transfer.Request{
		URL:     post.FileURL,
		Path:    path,
		Counter: counter,
	}); err != nil {
		return taskResult{err: fmt.Errorf("failed to download: %s: %w", path, err)}
	}

	tagPath := strings.TrimSuffix(path, filepath.Ext(path)) + tagExt
	tags := strings.ReplaceAll(post.Tags, " ", ", ")

	if err := os.WriteFile(tagPath, []byte(tags), filePerm); err != nil {
		return taskResult{err: fmt.Errorf("failed to write tags: %s: %w", tagPath, err)}
	}

	return taskResult{outcome: outcomeDone}
}

// sampleSpeed periodically drains the byte counter into a displayed rate.
// It stops, at most one interval late, once the aggregation loop has closed
// the counter; there is no explicit stop signal.
func sampleSpeed(bar *progress.Bar, counter *transfer.ByteCounter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Discard anything accrued while tasks were still being arranged so the
	// first displayed rate reflects steady-state transfer only.
	counter.Drain()

	last := time.Now()

	for now := range ticker.C {
		if counter.Closed() {
			return
		}

		elapsed := now.Sub(last)
		last = now

		bar.SetSpeed(speedOf(counter.Drain(), elapsed))
	}
}

// speedOf converts bytes accrued over elapsed into a per-second rate.
func speedOf(n uint64, elapsed time.Duration) uint64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return 0
	}

	return n * 1000 / uint64(ms)
}
