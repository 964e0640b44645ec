// Package logging provides leveled logging and build tracing for
// emuforge. It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A RunTrace for structured JSONL build traces (.emuforge/runs/<run-id>.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/emuforge/emuforge/internal/pipeline"
)

// LevelTrace is a custom slog level below Debug for full content logging.
// At this level, solver request and response payloads and other verbose
// content are included.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// RunTrace records pipeline events as JSONL, one file per run under
// the trace directory. It implements pipeline.EventSink and is safe
// for concurrent use from builder workers. A nil RunTrace is safe to
// use; all methods are no-ops on nil receiver.
type RunTrace struct {
	dir string

	mu   sync.Mutex
	file *os.File
}

// NewRunTrace creates a run tracer writing to dir/<run-id>.jsonl.
// At "info" level (the default), returns nil — no file is created.
// At "debug" or "trace" level, the file is opened lazily on the first
// event, which is when the run ID is first known. Returns nil if the
// directory cannot be created. All methods are nil-safe.
func NewRunTrace(dir string, level string) *RunTrace {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	return &RunTrace{dir: dir}
}

// Emit appends one event as a single JSONL line. Events without a run
// ID are dropped; the pipeline stamps one on every event it emits.
func (rt *RunTrace) Emit(ev pipeline.Event) {
	if rt == nil || ev.RunID == "" {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.file == nil {
		if rt.dir == "" {
			return
		}
		path := filepath.Join(rt.dir, ev.RunID+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			rt.dir = ""
			return
		}
		rt.file = f
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = rt.file.Write(data)
}

// Path returns the trace file path, or "" before the first event.
func (rt *RunTrace) Path() string {
	if rt == nil {
		return ""
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.file == nil {
		return ""
	}
	return rt.file.Name()
}

// Close closes the underlying file. Safe to call on nil receiver.
func (rt *RunTrace) Close() {
	if rt == nil {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.file == nil {
		return
	}
	rt.file.Close()
	rt.file = nil
	rt.dir = ""
}
