// Package decompress streams zstd-compressed files into their final location.
//
// Memory use is bounded by a fixed copy buffer and the decoder window, so it
// is independent of file size. Every failure is tagged [retry.Decompress].
package decompress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	"github.com/ligustah/assetsync/internal/progress"
	"github.com/ligustah/assetsync/internal/retry"
)

// Options configures a decompression run.
type Options struct {
	// BufferSize is the copy buffer size.
	// Default: 8 KiB
	BufferSize int

	// Interval bounds how often Progress is called.
	// Default: 200ms
	Interval time.Duration

	// Progress receives decompressed bytes written and the compressed
	// input size. It is always called once more on completion.
	Progress func(done, total int64)
}

// Decompress decodes src into dst, creating dst's directory if needed and
// truncating any existing dst. On failure the partial dst is removed.
func Decompress(ctx context.Context, fs afero.Fs, src, dst string, opts Options) error {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 8 * 1024
	}
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}

	in, err := fs.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("decompress: open %s: %w", src, err)
		}
		return retry.Mark(retry.Decompress, fmt.Errorf("decompress: open %s: %w", src, err))
	}
	defer in.Close()

	var total int64
	if fi, err := in.Stat(); err == nil {
		total = fi.Size()
	}

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("decompress: create directory: %w", err)
	}

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return retry.Mark(retry.Decompress, fmt.Errorf("decompress: create %s: %w", dst, err))
	}

	written, err := decode(ctx, in, out, total, opts)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = retry.Mark(retry.Decompress, fmt.Errorf("decompress: close %s: %w", dst, closeErr))
	}
	if err != nil {
		fs.Remove(dst)
		return err
	}

	if opts.Progress != nil {
		opts.Progress(written, total)
	}
	return nil
}

func decode(ctx context.Context, in io.Reader, out io.Writer, total int64, opts Options) (int64, error) {
	dec, err := zstd.NewReader(in, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return 0, retry.Mark(retry.Decompress, fmt.Errorf("decompress: init decoder: %w", err))
	}
	defer dec.Close()

	buf := make([]byte, opts.BufferSize)
	throttle := progress.Throttle{Interval: opts.Interval}
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := dec.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return written, retry.Mark(retry.Decompress, fmt.Errorf("decompress: write: %w", err))
			}
			written += int64(n)

			if opts.Progress != nil && throttle.Allow(time.Now()) {
				opts.Progress(written, total)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, retry.Mark(retry.Decompress, fmt.Errorf("decompress: read: %w", readErr))
		}
	}
}
