// Package logging holds the process-wide structured logger used by cloud-ship
// and helpers that keep tokens and other secrets out of log output.
//
// User-facing progress goes to stdout; diagnostics logged here go to stderr
// so the two never interleave in pipelines.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	logger *slog.Logger

	sensitivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(password|secret|token|key|auth)[\s]*[:=][\s]*[^\s]+`),
		regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
		regexp.MustCompile(`(?i)Basic\s+[A-Za-z0-9+/]+=*`),
		regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		regexp.MustCompile(`hvs\.[A-Za-z0-9_\-]{20,}`),
	}

	sensitiveKeys = map[string]bool{
		"password":          true,
		"secret":            true,
		"token":             true,
		"key":               true,
		"auth":              true,
		"authorization":     true,
		"credential":        true,
		"access_key":        true,
		"secret_key":        true,
		"access_key_id":     true,
		"secret_access_key": true,
		"secret_id":         true,
		"client_secret":     true,
		"api_key":           true,
		"api_token":         true,
	}
)

func init() {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if os.Getenv("CLOUD_SHIP_DEBUG") == "true" {
		opts.Level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Options controls how Configure builds the process logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty keeps warn.
	Level string

	// Format is "text" or "json". Empty means text.
	Format string

	// Output defaults to stderr.
	Output io.Writer
}

// Configure replaces the process logger according to opts.
// CLOUD_SHIP_DEBUG=true always wins over the configured level.
func Configure(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if os.Getenv("CLOUD_SHIP_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", opts.Format)
	}

	l := slog.New(handler)
	SetLogger(l)
	return l, nil
}

// ParseLevel maps a level name to a slog.Level. Empty means warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return slog.LevelWarn, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
}

// SetLogger allows overriding the default logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// GetLogger returns the current logger instance
func GetLogger() *slog.Logger {
	return logger
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SanitizeString removes or masks sensitive data from strings
func SanitizeString(s string) string {
	sanitized := s
	for _, pattern := range sensitivePatterns {
		sanitized = pattern.ReplaceAllStringFunc(sanitized, func(match string) string {
			parts := strings.SplitN(match, ":", 2)
			if len(parts) == 2 {
				return parts[0] + ": [REDACTED]"
			}
			parts = strings.SplitN(match, "=", 2)
			if len(parts) == 2 {
				return parts[0] + "=[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return sanitized
}

// SanitizeMap creates a sanitized copy of a map, redacting sensitive keys.
// Nested maps are sanitized recursively.
func SanitizeMap(m map[string]any) map[string]any {
	sanitized := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case string:
			sanitized[k] = SanitizeString(val)
		case map[string]any:
			sanitized[k] = SanitizeMap(val)
		default:
			sanitized[k] = v
		}
	}
	return sanitized
}

// Attrs flattens a sanitized copy of fields into slog key/value pairs.
func Attrs(fields map[string]any) []any {
	sanitized := SanitizeMap(fields)
	args := make([]any, 0, len(sanitized)*2)
	for k, v := range sanitized {
		args = append(args, k, v)
	}
	return args
}
