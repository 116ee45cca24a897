package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
)

// Kind classifies a failure for retry decisions.
type Kind int

const (
	// Permanent failures are never retried.
	Permanent Kind = iota
	// Network covers connection failures and non-success responses.
	Network
	// Stall means no bytes arrived within the stall threshold.
	Stall
	// Decompress covers malformed or truncated compressed input.
	Decompress
)

func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case Stall:
		return "stall"
	case Decompress:
		return "decompress"
	default:
		return "permanent"
	}
}

// Error tags an underlying error with a Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Mark tags err with kind. A nil err stays nil.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind err was tagged with, or Permanent.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Permanent
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int           // 1-based number of the attempt that failed
	Wait   time.Duration // delay before the next attempt
	Err    error         // the failure
}

// Policy configures bounded exponential-backoff retry.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	// Default: 1
	Attempts int

	// Base is the exponential growth factor.
	// Default: 2
	Base float64

	// Unit scales the backoff: wait(n) = Unit * Base^n.
	// Default: 1s
	Unit time.Duration

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration

	// Retryable lists the kinds that may be retried.
	Retryable []Kind

	// Clock drives backoff waits.
	// Default: real clock
	Clock clockwork.Clock

	// OnRetry is called before each backoff wait.
	OnRetry func(Attempt)
}

// DownloadPolicy returns the long policy used for network transfers.
func DownloadPolicy() Policy {
	return Policy{
		Attempts:   30,
		Base:       2,
		Unit:       time.Second,
		MaxBackoff: time.Minute,
		Retryable:  []Kind{Network, Stall},
	}
}

// DecompressPolicy returns the short policy used for decompression.
func DecompressPolicy() Policy {
	return Policy{
		Attempts:   5,
		Base:       2,
		Unit:       time.Second,
		MaxBackoff: time.Minute,
		Retryable:  []Kind{Decompress},
	}
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Base <= 0 {
		p.Base = 2
	}
	if p.Unit <= 0 {
		p.Unit = time.Second
	}
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	return p
}

// Backoff returns the wait before retrying after failed attempt n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	d := float64(p.Unit) * math.Pow(p.Base, float64(n))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Retries reports whether errors of kind k are retried.
func (p Policy) Retries(k Kind) bool {
	return k != Permanent && slices.Contains(p.Retryable, k)
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// attempts are used up, or ctx is done.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.Retries(KindOf(err)) {
			return err
		}
		if attempt >= p.Attempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(Attempt{Number: attempt, Wait: wait, Err: err})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Clock.After(wait):
		}
	}
}
