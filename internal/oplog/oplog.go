// Package oplog emits the operational event stream: one JSON line per
// business operation.
//
// Emission is non-blocking. Events flow through a buffered channel to a
// single writer goroutine; when the buffer is full the event is dropped
// and counted. A line never exceeds MaxLineBytes.
package oplog

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowlexi/patchvec/internal/metrics"
)

// MaxLineBytes caps a single serialised event line.
const MaxLineBytes = 8 * 1024

// Event is one operational log record. Zero-valued optional fields are
// omitted from the output line.
type Event struct {
	TS         string  `json:"ts"`
	Op         string  `json:"op"`
	Tenant     string  `json:"tenant"`
	Collection string  `json:"collection,omitempty"`
	LatencyMS  float64 `json:"latency_ms"`
	Status     string  `json:"status"`
	K          int     `json:"k,omitempty"`
	Hits       int     `json:"hits,omitempty"`
	DocID      string  `json:"docid,omitempty"`
	Chunks     int     `json:"chunks,omitempty"`
	NewName    string  `json:"new_name,omitempty"`
	RequestID  string  `json:"request_id,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
}

// Logger writes the event stream. A nil *Logger discards all events, so
// callers never have to nil-check.
type Logger struct {
	ch      chan Event
	done    chan struct{}
	closer  io.Closer
	dropped atomic.Uint64
	once    sync.Once
}

// New creates a Logger for the given destination: "" or "null" disables
// the stream (returns nil), "stdout" writes to standard output, anything
// else is treated as a file path opened in append mode.
func New(dest string) (*Logger, error) {
	switch dest {
	case "", "null", "none":
		return nil, nil
	}

	var w io.Writer
	var closer io.Closer
	if dest == "stdout" {
		w = os.Stdout
	} else {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		w = f
		closer = f
	}

	l := &Logger{
		ch:     make(chan Event, 1024),
		done:   make(chan struct{}),
		closer: closer,
	}
	go l.drain(w)
	return l, nil
}

// Emit enqueues an event, stamping ts if unset. Never blocks: under
// backpressure the event is dropped and counted.
func (l *Logger) Emit(ev Event) {
	if l == nil {
		return
	}
	if ev.TS == "" {
		ev.TS = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	select {
	case l.ch <- ev:
	default:
		l.dropped.Add(1)
		metrics.OplogDropped.Inc()
	}
}

// Dropped returns the number of events dropped so far.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close stops the writer goroutine after draining buffered events and
// closes the file handle if one is open.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		close(l.ch)
		<-l.done
	})
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func (l *Logger) drain(w io.Writer) {
	defer close(l.done)
	for ev := range l.ch {
		line, err := json.Marshal(ev)
		if err != nil {
			l.dropped.Add(1)
			continue
		}
		if len(line) > MaxLineBytes-1 {
			l.dropped.Add(1)
			metrics.OplogDropped.Inc()
			continue
		}
		line = append(line, '\n')
		// Single Write call per line keeps concurrent sinks line-atomic.
		_, _ = w.Write(line)
	}
}
