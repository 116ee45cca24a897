package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalFiles is the number of files in the run.
	TotalFiles int

	// TotalSize is the total compressed size in bytes.
	TotalSize int64

	// Concurrency is the number of parallel transfers (for display).
	Concurrency int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Source is the content source being synchronized (for display).
	Source string
}

// Reporter aggregates events into human-readable progress output.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	tasks          map[string]int64
	completedBytes atomic.Int64
	doneFiles      atomic.Int32
	failedFiles    atomic.Int32
	inProgress     atomic.Int32
	startTime      time.Time
	lastUpdate     time.Time
	lastBytes      int64
	stopCh         chan struct{}
	doneCh         chan struct{}
	started        bool
	stopped        bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		tasks:  make(map[string]int64),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[assetsync] Synchronizing: %s\n", r.opts.Source)
	fmt.Fprintf(r.opts.Output, "[assetsync] Total size: %s | Files: %d | Concurrency: %d\n",
		FormatBytes(r.opts.TotalSize),
		r.opts.TotalFiles,
		r.opts.Concurrency,
	)

	go r.updateLoop()
}

// Stop stops the reporter and waits for the final status line.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// Publish implements Sink.
func (r *Reporter) Publish(e Event) {
	switch e.Phase {
	case PhaseDownloading:
		r.mu.Lock()
		prev, seen := r.tasks[e.TaskID]
		if !seen {
			r.inProgress.Add(1)
		}
		// A retried download starts over, so e.Bytes < prev drops the
		// bytes of the failed attempt.
		r.completedBytes.Add(e.Bytes - prev)
		r.tasks[e.TaskID] = e.Bytes
		r.mu.Unlock()
	case PhaseDone, PhaseFailed:
		r.mu.Lock()
		if _, seen := r.tasks[e.TaskID]; seen {
			delete(r.tasks, e.TaskID)
			r.inProgress.Add(-1)
		}
		r.mu.Unlock()
		if e.Phase == PhaseDone {
			r.doneFiles.Add(1)
		} else {
			r.failedFiles.Add(1)
		}
	}
}

// Counts returns done, failed and in-progress file counts.
func (r *Reporter) Counts() (done, failed, inProgress int) {
	return int(r.doneFiles.Load()), int(r.failedFiles.Load()), int(r.inProgress.Load())
}

// Bytes returns the number of bytes downloaded so far.
func (r *Reporter) Bytes() int64 {
	return r.completedBytes.Load()
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	done, failed, inProgress := r.Counts()

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	eta := "calculating..."
	if r.opts.TotalSize > 0 {
		percent = float64(completed) / float64(r.opts.TotalSize) * 100
		if speed > 0 {
			remaining := float64(r.opts.TotalSize - completed)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	pending := r.opts.TotalFiles - done - failed - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[assetsync] Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s    ",
		percent,
		FormatBytes(completed),
		FormatBytes(r.opts.TotalSize),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[assetsync] Files: %d done | %d failed | %d in-progress | %d pending    \033[A",
		done, failed, inProgress, pending,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	done, failed, _ := r.Counts()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[assetsync] Transferred: %s | Speed: %s/s | Complete!    \n",
		FormatBytes(completed),
		FormatBytes(int64(avgSpeed)),
	)
	fmt.Fprintf(r.opts.Output, "[assetsync] Files: %d done | %d failed    \n", done, failed)
	fmt.Fprintf(r.opts.Output, "[assetsync] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes with binary units (e.g. "1.5 KiB").
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. Binary suffixes (KiB, MiB)
// are powers of 1024, SI suffixes (KB, MB) powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("byte string out of range: %s", s)
	}
	return int64(n), nil
}
