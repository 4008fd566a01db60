package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/metrics"
	"github.com/jvreagan/cloud-ship/pkg/retry"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

const (
	// BuildLogMaxAttempts is the number of failed connections tolerated.
	BuildLogMaxAttempts = 3

	// BuildLogMaxDuration bounds the whole build-log read.
	BuildLogMaxDuration = 5 * time.Minute

	// ReconnectDelay is waited before every reconnect, on top of any backoff.
	ReconnectDelay = 500 * time.Millisecond
)

// BuildLogSource opens one build-log connection, resuming after lastID when
// it is non-empty.
type BuildLogSource interface {
	StreamBuildLogs(ctx context.Context, deploymentID, lastID string) (io.ReadCloser, error)
}

// BuildLogReader turns a reconnecting build-log endpoint into a single
// sequence of message and terminal records.
type BuildLogReader struct {
	Source BuildLogSource

	// Executor classifies connection failures and applies backoff.
	Executor *retry.Executor

	// Budget bounds failed connections and total duration.
	Budget retry.Budget

	// ReconnectDelay is slept before every connection after the first.
	ReconnectDelay time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewBuildLogReader returns a reader with the default budget of 3 attempts
// within 5 minutes.
func NewBuildLogReader(source BuildLogSource, logger *slog.Logger, m *metrics.Metrics) *BuildLogReader {
	if logger == nil {
		logger = logging.GetLogger()
	}
	exec := retry.NewExecutor("build_logs")
	exec.Logger = logger
	exec.Metrics = m
	return &BuildLogReader{
		Source:         source,
		Executor:       exec,
		Budget:         retry.Budget{MaxAttempts: BuildLogMaxAttempts, MaxDuration: BuildLogMaxDuration},
		ReconnectDelay: ReconnectDelay,
		Logger:         logger,
		Metrics:        m,
	}
}

type connOutcome int

const (
	connTerminal connOutcome = iota
	connServerTimeout
	connStopped
)

// Stream yields message records as they arrive, then exactly one terminal
// record (complete or failed) and ends. When the retry budget runs out, or a
// fatal error occurs, the sequence ends with a single non-nil error instead.
//
// A server-sent timeout record reconnects with the latest cursor and does not
// count as a failed attempt. A connection that ends without a terminal
// record is a transient failure.
func (r *BuildLogReader) Stream(ctx context.Context, deploymentID string) iter.Seq2[types.BuildLogLine, error] {
	return func(yield func(types.BuildLogLine, error) bool) {
		exec := r.Executor
		if exec == nil {
			exec = retry.NewExecutor("build_logs")
		}
		clock := exec.Clock
		if clock == nil {
			clock = retry.SystemClock
		}
		logger := r.Logger
		if logger == nil {
			logger = logging.GetLogger()
		}

		var (
			lastID  string
			opened  bool
			reason  string
			stopped bool
		)

		op := func(ctx context.Context) (bool, error) {
			if opened {
				r.Metrics.ObserveReconnect("build_logs", reason)
				logger.Debug("reconnecting build log stream",
					"deployment_id", deploymentID,
					"last_id", lastID,
					"reason", reason)
				if err := clock.Sleep(ctx, r.ReconnectDelay); err != nil {
					return false, err
				}
			}
			opened = true
			reason = "error"

			body, err := r.Source.StreamBuildLogs(ctx, deploymentID, lastID)
			if err != nil {
				return false, err
			}
			defer body.Close()

			outcome, err := r.readConnection(body, &lastID, logger, yield)
			if err != nil {
				return false, err
			}
			switch outcome {
			case connServerTimeout:
				reason = "timeout"
				return false, nil
			case connStopped:
				stopped = true
			}
			return true, nil
		}

		if err := retry.Run(ctx, r.Budget, exec, op); err != nil && !stopped {
			yield(types.BuildLogLine{}, fmt.Errorf("build logs for deployment %s: %w", deploymentID, err))
		}
	}
}

func (r *BuildLogReader) readConnection(body io.Reader, lastID *string, logger *slog.Logger, yield func(types.BuildLogLine, error) bool) (connOutcome, error) {
	lines := newLineReader(body)
	for {
		raw, oversized, err := lines.next()
		if errors.Is(err, io.EOF) {
			return 0, retry.MarkTransient(ErrConnectionClosed)
		}
		if err != nil {
			return 0, err
		}
		if oversized {
			r.malformed(logger, fmt.Errorf("%w: record exceeds %d bytes", ErrMalformedRecord, MaxRecordSize))
			continue
		}
		if len(raw) == 0 {
			continue
		}

		line, err := ParseBuildLogLine(raw)
		if err != nil {
			r.malformed(logger, err)
			continue
		}
		if line.ID != "" {
			*lastID = line.ID
		}

		switch line.Type {
		case types.BuildLogMessage:
			if !yield(line, nil) {
				return connStopped, nil
			}
		case types.BuildLogComplete, types.BuildLogFailed:
			yield(line, nil)
			return connTerminal, nil
		case types.BuildLogTimeout:
			return connServerTimeout, nil
		}
	}
}

func (r *BuildLogReader) malformed(logger *slog.Logger, err error) {
	r.Metrics.ObserveMalformed("build_logs")
	logger.Warn("skipping build log record", "error", logging.SanitizeString(err.Error()))
}
