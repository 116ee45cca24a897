package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/ligustah/assetsync/internal/decompress"
	"github.com/ligustah/assetsync/internal/progress"
	"github.com/ligustah/assetsync/internal/retry"
	"github.com/ligustah/assetsync/pkg/manifest"
)

// ErrStalled is the cause of an attempt aborted by the stall watchdog.
var ErrStalled = errors.New("downloader: transfer stalled")

// ErrTruncated is returned when the body ends before the advertised size.
var ErrTruncated = errors.New("downloader: body shorter than advertised")

// task carries the per-file state of one transfer.
type task struct {
	id           string
	entry        manifest.Entry
	final        string
	intermediate string
	log          logrus.FieldLogger
	sink         progress.Sink
}

func (t *task) publish(phase progress.Phase, done, total int64) {
	t.sink.Publish(progress.Event{
		TaskID: t.id,
		Name:   t.entry.Name,
		Bytes:  done,
		Total:  total,
		Phase:  phase,
	})
}

// transfer runs one entry end to end: slot, download, decompress, cleanup.
func (d *Downloader) transfer(ctx context.Context, gate *semaphore.Weighted, entry manifest.Entry, targetDir string, opts Options) (err error) {
	final, err := manifest.Resolve(targetDir, entry.Name)
	if err != nil {
		d.bad.Add(entry.Name)
		d.log.WithField("file", entry.Name).WithError(err).Error("rejecting unsafe path")
		return err
	}

	if err := gate.Acquire(ctx, 1); err != nil {
		return err
	}

	t := &task{
		id:           uuid.NewString(),
		entry:        entry,
		final:        final,
		intermediate: final + manifest.CompressedSuffix,
		log:          d.log.WithField("file", entry.Name),
		sink:         opts.Progress,
	}

	defer func() {
		if rmErr := d.fs.Remove(t.intermediate); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			t.log.WithError(rmErr).Warn("removing intermediate file")
		}
		if err != nil {
			t.publish(progress.PhaseFailed, 0, entry.Size)
		} else {
			t.publish(progress.PhaseDone, entry.Size, entry.Size)
		}
		gate.Release(1)
	}()

	t.publish(progress.PhaseQueued, 0, entry.Size)
	t.publish(progress.PhaseDownloading, 0, entry.Size)

	if err := d.fetch(ctx, t, opts); err != nil {
		return d.fail(ctx, t, "download", err)
	}

	decompressPolicy := d.withRetryLog(opts.DecompressRetry, t.log, "decompress")
	err = decompressPolicy.Do(ctx, func(ctx context.Context) error {
		t.publish(progress.PhaseDecompressing, 0, 0)
		return decompress.Decompress(ctx, d.fs, t.intermediate, t.final, decompress.Options{
			Interval: opts.ProgressInterval,
			Progress: func(done, total int64) {
				t.publish(progress.PhaseDecompressing, done, total)
			},
		})
	})
	if err != nil {
		return d.fail(ctx, t, "decompress", err)
	}

	t.log.Debug("synchronized")
	return nil
}

func (d *Downloader) fail(ctx context.Context, t *task, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	d.bad.Add(t.entry.Name)
	t.log.WithError(err).WithField("stage", stage).Error("transfer failed")
	return err
}

// fetch puts the compressed object at t.intermediate, reusing an existing
// copy when it verifies.
func (d *Downloader) fetch(ctx context.Context, t *task, opts Options) error {
	if opts.CheckExisting && t.entry.CompressedChecksum != "" {
		if d.verifier.Verify(t.intermediate, t.entry.CompressedChecksum) {
			t.log.Debug("reusing verified intermediate")
			t.publish(progress.PhaseDownloading, t.entry.Size, t.entry.Size)
			return nil
		}
	}

	if err := d.fs.MkdirAll(filepath.Dir(t.intermediate), 0o755); err != nil {
		return fmt.Errorf("downloader: create directory: %w", err)
	}

	policy := d.withRetryLog(opts.DownloadRetry, t.log, "download")
	return policy.Do(ctx, func(ctx context.Context) error {
		return d.download(ctx, t, opts)
	})
}

// download performs one attempt. The watchdog cancels the attempt when no
// bytes arrive for opts.StallTimeout.
func (d *Downloader) download(ctx context.Context, t *task, opts Options) error {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	obj, err := d.src.Open(attemptCtx, t.entry.Object())
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	watchdog := time.AfterFunc(opts.StallTimeout, func() {
		cancel(ErrStalled)
		obj.Body.Close()
	})
	defer watchdog.Stop()

	total := obj.Size
	if total < 0 {
		total = t.entry.Size
	}

	out, err := d.fs.OpenFile(t.intermediate, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("downloader: create %s: %w", t.intermediate, err)
	}
	written, err := d.copy(attemptCtx, out, obj.Body, watchdog, t, total, opts)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("downloader: close %s: %w", t.intermediate, closeErr)
	}

	if err != nil {
		if errors.Is(context.Cause(attemptCtx), ErrStalled) {
			return retry.Mark(retry.Stall, fmt.Errorf("%w after %s", ErrStalled, opts.StallTimeout))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if obj.Size >= 0 && written != obj.Size {
		return retry.Mark(retry.Network, fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, written, obj.Size))
	}

	t.publish(progress.PhaseDownloading, written, total)
	return nil
}

func (d *Downloader) copy(ctx context.Context, out afero.File, body io.Reader, watchdog *time.Timer, t *task, total int64, opts Options) (int64, error) {
	buf := make([]byte, opts.ChunkSize)
	throttle := progress.Throttle{Interval: opts.ProgressInterval}
	var written int64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			// Waiting on the limiter is not a stall.
			watchdog.Stop()
			if err := d.limiter.Acquire(ctx, n); err != nil {
				return written, err
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("downloader: write %s: %w", t.intermediate, err)
			}
			written += int64(n)
			watchdog.Reset(opts.StallTimeout)

			if throttle.Allow(time.Now()) {
				t.publish(progress.PhaseDownloading, written, total)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, retry.Mark(retry.Network, fmt.Errorf("downloader: read %s: %w", t.entry.Object(), readErr))
		}
	}
}

// withRetryLog returns p with OnRetry logging each retry at warning level.
func (d *Downloader) withRetryLog(p retry.Policy, log logrus.FieldLogger, stage string) retry.Policy {
	next := p.OnRetry
	p.OnRetry = func(a retry.Attempt) {
		log.WithFields(logrus.Fields{
			"stage":   stage,
			"attempt": a.Number,
			"wait":    a.Wait,
			"kind":    retry.KindOf(a.Err).String(),
		}).WithError(a.Err).Warn("retrying")
		if next != nil {
			next(a)
		}
	}
	return p
}
