package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/jvreagan/cloud-ship/pkg/logging"
	"github.com/jvreagan/cloud-ship/pkg/metrics"
	"github.com/jvreagan/cloud-ship/pkg/types"
)

// RemoteError is an error record sent by the server on the app-log stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "log stream reported an error"
	}
	return "log stream reported an error: " + e.Message
}

// AppLogSource opens an application's runtime log stream.
type AppLogSource interface {
	StreamAppLogs(ctx context.Context, appID string, q types.AppLogQuery) (io.ReadCloser, error)
}

// AppLogReader reads runtime logs. It never reconnects; the sequence ends
// when the server closes the connection.
type AppLogReader struct {
	Source  AppLogSource
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewAppLogReader returns a reader over source.
func NewAppLogReader(source AppLogSource, logger *slog.Logger, m *metrics.Metrics) *AppLogReader {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &AppLogReader{Source: source, Logger: logger, Metrics: m}
}

// Stream yields log entries until the connection closes. Heartbeats are
// dropped and malformed entries are logged and skipped. An error record,
// a failed connection or a broken read ends the sequence with an error.
func (r *AppLogReader) Stream(ctx context.Context, appID string, q types.AppLogQuery) iter.Seq2[types.AppLogEntry, error] {
	return func(yield func(types.AppLogEntry, error) bool) {
		logger := r.Logger
		if logger == nil {
			logger = logging.GetLogger()
		}

		body, err := r.Source.StreamAppLogs(ctx, appID, q)
		if err != nil {
			yield(types.AppLogEntry{}, fmt.Errorf("app logs for %s: %w", appID, err))
			return
		}
		defer body.Close()

		lines := newLineReader(body)
		for {
			raw, oversized, err := lines.next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(types.AppLogEntry{}, fmt.Errorf("app logs for %s: %w", appID, err))
				return
			}
			if oversized {
				r.malformed(logger, fmt.Errorf("%w: record exceeds %d bytes", ErrMalformedRecord, MaxRecordSize))
				continue
			}
			if len(raw) == 0 {
				continue
			}

			rec, err := parseAppLogLine(raw)
			if err != nil {
				r.malformed(logger, err)
				continue
			}
			switch rec.kind {
			case appLogHeartbeat:
				continue
			case appLogError:
				yield(types.AppLogEntry{}, &RemoteError{Message: rec.message})
				return
			}
			if !yield(rec.entry, nil) {
				return
			}
		}
	}
}

func (r *AppLogReader) malformed(logger *slog.Logger, err error) {
	r.Metrics.ObserveMalformed("app_logs")
	logger.Warn("skipping app log record", "error", logging.SanitizeString(err.Error()))
}
