package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// QueryRecord is one entry of the query log.
type QueryRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	Table      string    `json:"table,omitempty"`
	Column     string    `json:"column,omitempty"`
	Identity   string    `json:"identity,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Found      bool      `json:"found"`
	Rows       int64     `json:"rows,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// QueryLogger writes one record per executed query. It is disabled until
// Enable is called.
type QueryLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console io.Writer
}

var defaultQueryLogger = &QueryLogger{}

// Queries returns the process-wide query logger.
func Queries() *QueryLogger {
	return defaultQueryLogger
}

// Enable turns query logging on. An empty path keeps file output off.
func (l *QueryLogger) Enable(path string, console bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open query log: %w", err)
		}
		l.file = f
	}
	l.console = nil
	if console {
		l.console = os.Stdout
	}
	l.enabled = true
	return nil
}

// SetConsole redirects console output, mostly for tests.
func (l *QueryLogger) SetConsole(w io.Writer) {
	l.mu.Lock()
	l.console = w
	l.mu.Unlock()
}

// Enabled reports whether records are being written.
func (l *QueryLogger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Log writes a record.
func (l *QueryLogger) Log(rec *QueryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	rec.Timestamp = time.Now()

	if l.console != nil {
		status := "ok"
		if !rec.Success {
			status = "fail"
		} else if !rec.Found {
			status = "miss"
		}
		fmt.Fprintf(l.console, "[query] %s %s %s.%s %s %dms\n",
			status, rec.Kind, rec.Table, rec.Column, rec.Identity, rec.DurationMs)
		if rec.Error != "" {
			fmt.Fprintf(l.console, "[query]   error: %s\n", rec.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(rec)
		l.file.Write(append(data, '\n'))
	}
}

// Close disables the logger and closes the log file.
func (l *QueryLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
