// Package retry classifies failures as transient or fatal and drives
// exponential backoff inside a bounded attempt loop.
//
// Executor.Attempt runs a single attempt. Run is the loop: it tracks the
// attempt count and elapsed time against a Budget and is shared by the
// build-log stream reader and the deployment status poller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/metrics"
)

// MaxBackoff caps the delay between attempts.
const MaxBackoff = 30 * time.Second

var (
	// ErrTooManyRetries is returned when the attempt budget is exhausted.
	ErrTooManyRetries = errors.New("too many retries")

	// ErrTimeout is returned when the duration budget is exhausted.
	ErrTimeout = errors.New("timed out")
)

// Class is the outcome classification of a failed attempt.
type Class int

const (
	Fatal Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Classifier maps an attempt error to a Class.
type Classifier func(error) Class

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so that Classify treats it as transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Classify is the default Classifier. Network-level failures and server
// errors (any error exposing StatusCode() >= 500) are transient; everything
// else, including context cancellation, is fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	var te *transientError
	if errors.As(err, &te) {
		return Transient
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}

	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		if sc.StatusCode() >= 500 {
			return Transient
		}
		return Fatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Fatal
}

// Backoff returns the delay applied after a transient failure of the given
// 0-based attempt: min(2^attempt, 30) seconds.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return MaxBackoff
	}
	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// Clock abstracts time so loops can be tested without waiting.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Executor runs single attempts and applies backoff after transient failures.
type Executor struct {
	// Name labels log records and metrics, e.g. "build_logs".
	Name string

	Classify Classifier
	Clock    Clock
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// NewExecutor returns an Executor using the default classifier and the
// wall clock.
func NewExecutor(name string) *Executor {
	return &Executor{
		Name:     name,
		Classify: Classify,
		Clock:    SystemClock,
		Logger:   logging.GetLogger(),
	}
}

func (e *Executor) clock() Clock {
	if e.Clock == nil {
		return SystemClock
	}
	return e.Clock
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return logging.GetLogger()
	}
	return e.Logger
}

// Attempt executes op once. On a transient failure it sleeps Backoff(attempt)
// and reports retry=true together with the failure. On a fatal failure it
// returns the error immediately without sleeping. A cancelled context during
// the backoff sleep is fatal.
func (e *Executor) Attempt(ctx context.Context, attempt int, op func(context.Context) error) (bool, error) {
	err := op(ctx)
	if err == nil {
		return false, nil
	}

	classify := e.Classify
	if classify == nil {
		classify = Classify
	}
	class := classify(err)
	e.Metrics.ObserveAttempt(e.Name, class.String())

	if class != Transient {
		return false, err
	}

	delay := Backoff(attempt)
	e.logger().Debug("transient failure, backing off",
		"operation", e.Name,
		"attempt", attempt,
		"delay", delay,
		"error", logging.SanitizeString(err.Error()))

	if serr := e.clock().Sleep(ctx, delay); serr != nil {
		return false, serr
	}
	return true, err
}

// Budget bounds a retry loop.
type Budget struct {
	// MaxAttempts is the number of transient failures tolerated. Zero means
	// unbounded.
	MaxAttempts int

	// MaxDuration bounds total elapsed time. Zero means unbounded.
	MaxDuration time.Duration

	// ResetOnSuccess clears the failure counter after every successful
	// attempt, turning MaxAttempts into a consecutive-failure limit.
	ResetOnSuccess bool
}

// Op is one iteration of a Run loop. Returning done=true ends the loop
// successfully; done=false with a nil error asks for another iteration.
type Op func(ctx context.Context) (done bool, err error)

// Run repeats op under budget b. Transient failures are absorbed by the
// executor's backoff; fatal failures are returned as-is. When the budget is
// exhausted Run returns an error wrapping ErrTooManyRetries or ErrTimeout,
// joined with the last transient failure when there was one.
func Run(ctx context.Context, b Budget, e *Executor, op Op) error {
	if e == nil {
		e = NewExecutor("")
	}
	clock := e.clock()
	start := clock.Now()
	failures := 0
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.MaxDuration > 0 && clock.Now().Sub(start) > b.MaxDuration {
			e.Metrics.ObserveExhausted(e.Name, "timeout")
			return exhausted(ErrTimeout, b.MaxDuration.String(), lastErr)
		}
		if b.MaxAttempts > 0 && failures >= b.MaxAttempts {
			e.Metrics.ObserveExhausted(e.Name, "attempts")
			return exhausted(ErrTooManyRetries, fmt.Sprintf("%d attempts", b.MaxAttempts), lastErr)
		}

		var done bool
		retry, err := e.Attempt(ctx, failures, func(ctx context.Context) error {
			var opErr error
			done, opErr = op(ctx)
			return opErr
		})
		switch {
		case retry:
			failures++
			lastErr = err
			continue
		case err != nil:
			return err
		case done:
			return nil
		}
		if b.ResetOnSuccess {
			failures = 0
			lastErr = nil
		}
	}
}

func exhausted(sentinel error, budget string, last error) error {
	err := fmt.Errorf("%w after %s", sentinel, budget)
	if last != nil {
		return errors.Join(err, last)
	}
	return err
}
