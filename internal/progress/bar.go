// Package progress renders a single live status line for a download run.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const barWidth = 30

// Bar is a terminal progress line showing elapsed time, current throughput,
// completion bar, outcome counts and position. It is written with a carriage
// return so it overwrites itself in place.
//
// Two goroutines share a Bar during a run: the aggregation loop advances it
// and the speed sampler updates the rate. A single mutex serializes every
// render so the two never interleave partial lines.
type Bar struct {
	mu sync.Mutex

	out      io.Writer
	total    int
	pos      int
	speed    uint64 // bytes per second
	done     uint64
	existed  uint64
	failed   uint64
	start    time.Time
	finished bool
}

// NewBar creates a bar for total units of work, writing to out
// (os.Stderr when nil).
func NewBar(out io.Writer, total int) *Bar {
	if out == nil {
		out = os.Stderr
	}

	return &Bar{
		out:   out,
		total: total,
		start: time.Now(),
	}
}

// SetSpeed updates the displayed throughput and redraws.
func (b *Bar) SetSpeed(bytesPerSec uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return
	}

	b.speed = bytesPerSec
	b.render()
}

// Advance moves the bar one unit forward with the new outcome counts and
// redraws. A failed item still advances the bar, otherwise the display would
// stall short of the total.
func (b *Bar) Advance(done, existed, failed uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return
	}

	b.pos++
	b.done, b.existed, b.failed = done, existed, failed
	b.render()
}

// Println clears the progress line, prints msg on its own line, and redraws.
// Diagnostics must go through here so they never corrupt the rendering.
func (b *Bar) Println(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Fprintf(b.out, "\r\x1b[K%s\n", msg)

	if !b.finished {
		b.render()
	}
}

// Finish renders the final state and moves to a fresh line. Further updates
// are ignored.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finished {
		return
	}

	b.render()
	fmt.Fprintln(b.out)

	b.finished = true
}

// render draws the line. Callers hold b.mu.
func (b *Bar) render() {
	filled := 0
	if b.total > 0 {
		filled = b.pos * barWidth / b.total
	}

	var cells string

	switch {
	case filled >= barWidth:
		cells = strings.Repeat("#", barWidth)
	default:
		cells = strings.Repeat("#", filled) + ">" + strings.Repeat("-", barWidth-filled-1)
	}

	fmt.Fprintf(b.out, "\r\x1b[K[%s] [%s/s] [%s] [done:%d existed:%d failed:%d] %d/%d (%s)",
		formatClock(time.Since(b.start)),
		humanize.Bytes(b.speed),
		cells,
		b.done, b.existed, b.failed,
		b.pos, b.total,
		b.eta(),
	)
}

// eta estimates time remaining from the average pace so far.
func (b *Bar) eta() string {
	if b.pos == 0 || b.pos >= b.total {
		return "-"
	}

	perItem := time.Since(b.start) / time.Duration(b.pos)
	remaining := perItem * time.Duration(b.total-b.pos)

	return formatClock(remaining)
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Second)

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}

	return fmt.Sprintf("%02d:%02d", m, s)
}
