// Package stream reads the newline-delimited JSON log streams of the
// deployment API and exposes them as lazy, pull-based sequences.
//
// Every record is validated at the boundary. A record that cannot be parsed
// is logged and skipped; it never ends a stream.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jvreagan/cloud-ship/pkg/types"
)

var (
	// ErrMalformedRecord wraps every record-level parse failure.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrConnectionClosed is reported when the server ends a build-log
	// stream before a terminal record.
	ErrConnectionClosed = errors.New("connection closed before build finished")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}

// ParseBuildLogLine validates one build-log record.
func ParseBuildLogLine(line []byte) (types.BuildLogLine, error) {
	if !gjson.ValidBytes(line) {
		return types.BuildLogLine{}, malformed("invalid json")
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return types.BuildLogLine{}, malformed("record is not an object")
	}

	id, err := optionalString(root.Get("id"))
	if err != nil {
		return types.BuildLogLine{}, err
	}

	tag := root.Get("type")
	if tag.Type != gjson.String {
		return types.BuildLogLine{}, malformed("missing type")
	}

	out := types.BuildLogLine{Type: types.BuildLogType(tag.Str), ID: id}
	switch out.Type {
	case types.BuildLogMessage:
		msg := root.Get("message")
		if msg.Type != gjson.String {
			return types.BuildLogLine{}, malformed("message record without text")
		}
		out.Message = msg.Str
	case types.BuildLogComplete, types.BuildLogFailed, types.BuildLogTimeout, types.BuildLogHeartbeat:
	default:
		return types.BuildLogLine{}, malformed("unknown type %q", tag.Str)
	}
	return out, nil
}

func optionalString(r gjson.Result) (string, error) {
	switch r.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return r.Str, nil
	}
	return "", malformed("id must be a string or null")
}

type appLogKind int

const (
	appLogEntry appLogKind = iota
	appLogHeartbeat
	appLogError
)

type appLogRecord struct {
	kind    appLogKind
	entry   types.AppLogEntry
	message string
}

// parseAppLogLine classifies an app-log record. Control records carry a
// type field; everything else must be a valid log entry.
func parseAppLogLine(line []byte) (appLogRecord, error) {
	if !gjson.ValidBytes(line) {
		return appLogRecord{}, malformed("invalid json")
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return appLogRecord{}, malformed("record is not an object")
	}

	switch root.Get("type").String() {
	case "heartbeat":
		return appLogRecord{kind: appLogHeartbeat}, nil
	case "error":
		return appLogRecord{kind: appLogError, message: root.Get("message").String()}, nil
	}

	var raw struct {
		Timestamp string  `json:"timestamp"`
		Message   *string `json:"message"`
		Level     string  `json:"level"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return appLogRecord{}, malformed("%v", err)
	}
	if raw.Message == nil {
		return appLogRecord{}, malformed("log entry without message")
	}
	ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp)
	if err != nil {
		return appLogRecord{}, malformed("bad timestamp %q", raw.Timestamp)
	}
	level := strings.ToLower(strings.TrimSpace(raw.Level))
	if level == "" {
		level = "info"
	}
	return appLogRecord{
		kind:  appLogEntry,
		entry: types.AppLogEntry{Timestamp: ts, Message: *raw.Message, Level: level},
	}, nil
}
