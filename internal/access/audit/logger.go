// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
)

// sinkBuffer is the number of records queued for the sink before drops.
const sinkBuffer = 1000

// Writer persists records outside the process.
type Writer interface {
	Write(r Record) error
	Close() error
}

// Metrics for the audit sink.
type Metrics struct {
	dropped  prometheus.Counter
	failures prometheus.Counter
}

// NewMetrics registers audit metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_sink_dropped_total",
			Help: "Total number of audit records dropped before reaching the sink",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_audit_sink_failures_total",
			Help: "Total number of audit records the sink failed to write",
		}),
	}
}

// Logger records decisions into a Ring and forwards them asynchronously to
// an optional Writer.
type Logger struct {
	ring    *Ring
	writer  Writer
	metrics *Metrics
	logger  *slog.Logger

	// mu orders enqueues against Close so nothing is queued after the
	// final drain.
	mu     sync.Mutex
	closed bool
	queue  chan Record
	stop   chan struct{}
	wg     sync.WaitGroup
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithWriter forwards every record to w.
func WithWriter(w Writer) LoggerOption {
	return func(l *Logger) { l.writer = w }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) LoggerOption {
	return func(l *Logger) { l.metrics = m }
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger *slog.Logger) LoggerOption {
	return func(l *Logger) { l.logger = logger }
}

// NewLogger creates a Logger over ring.
func NewLogger(ring *Ring, opts ...LoggerOption) *Logger {
	l := &Logger{
		ring:   ring,
		logger: slog.Default(),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = NewMetrics(nil)
	}
	if l.writer != nil {
		l.queue = make(chan Record, sinkBuffer)
		l.wg.Add(1)
		go l.consume()
	}
	return l
}

// Ring returns the in-memory history.
func (l *Logger) Ring() *Ring {
	return l.ring
}

// Log appends r to the history and queues it for the sink. A full queue or
// a closed logger drops the record from the sink only; drops are counted.
func (l *Logger) Log(r Record) {
	l.ring.Append(r)
	if l.queue == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.metrics.dropped.Inc()
		l.logger.Warn("audit record dropped: logger closed", "record_id", r.ID)
		return
	}
	select {
	case l.queue <- r.Clone():
	default:
		l.metrics.dropped.Inc()
		l.logger.Warn("audit record dropped: sink queue full", "record_id", r.ID)
	}
}

// Close stops the sink after writing everything queued. It is idempotent.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.stop)
	l.mu.Unlock()

	l.wg.Wait()
	if l.writer != nil {
		if err := l.writer.Close(); err != nil {
			return oops.Code("AUDIT_CLOSE_FAILED").Wrap(err)
		}
	}
	return nil
}

func (l *Logger) consume() {
	defer l.wg.Done()
	for {
		select {
		case r := <-l.queue:
			l.write(r)
		case <-l.stop:
			l.drain()
			return
		}
	}
}

func (l *Logger) drain() {
	for {
		select {
		case r := <-l.queue:
			l.write(r)
		default:
			return
		}
	}
}

func (l *Logger) write(r Record) {
	if err := l.writer.Write(r); err != nil {
		l.metrics.failures.Inc()
		l.logger.Error("audit sink write failed", "error", err, "record_id", r.ID)
	}
}

// FileWriter appends records to a file as JSON lines.
type FileWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// NewFileWriter opens path for appending, creating it if needed.
func NewFileWriter(path string) (*FileWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, oops.Code("AUDIT_OPEN_FAILED").With("path", path).Wrap(err)
	}
	return &FileWriter{path: path, file: file, w: bufio.NewWriter(file)}, nil
}

// Write appends one line and flushes it.
func (f *FileWriter) Write(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return oops.Code("AUDIT_ENCODE_FAILED").With("record_id", r.ID).Wrap(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return oops.Code("AUDIT_CLOSED").With("path", f.path).Errorf("audit file is closed")
	}
	data = append(data, '\n')
	if _, err := f.w.Write(data); err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	if err := f.w.Flush(); err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("path", f.path).Wrap(err)
	}
	return nil
}

// Close flushes and closes the file.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := errors.Join(f.w.Flush(), f.file.Close())
	f.file = nil
	if err != nil {
		return oops.Code("AUDIT_CLOSE_FAILED").With("path", f.path).Wrap(err)
	}
	return nil
}

// ReadFile decodes every record in a JSON lines file. Lines that do not
// decode are skipped and counted.
func ReadFile(path string) ([]Record, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, oops.Code("AUDIT_OPEN_FAILED").With("path", path).Wrap(err)
	}
	defer func() { _ = file.Close() }()

	var (
		out     []Record
		skipped int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			skipped++
			continue
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return out, skipped, oops.Code("AUDIT_READ_FAILED").With("path", path).Wrap(err)
	}
	return out, skipped, nil
}
