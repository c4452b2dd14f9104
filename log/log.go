// Package log implements the process-wide leveled logger every other
// package calls into, grounded on jackal's log package (Debugf/Infof/
// Warnf/Errorf/Fatalf at package scope, writing to a file with a stderr
// fallback) even though no jackal log/*.go source was retrieved alongside
// c2s/c2s.go and s2s/dialer.go — those two files' own log.Debugf/log.Error
// call sites are the contract this package satisfies.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Level orders the five severities this package recognizes, most to least
// verbose.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var (
	mu        sync.Mutex
	out       io.Writer = os.Stderr
	threshold           = InfoLevel
	file      *os.File
)

// Configure opens dir/pjabberd.log for append, redirecting subsequent log
// calls to it; on any failure (missing permissions, read-only filesystem)
// it leaves output on stderr, matching §6's "Environment" fallback.
func Configure(dir string, level Level) {
	mu.Lock()
	defer mu.Unlock()

	threshold = level
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "log: cannot create %s, falling back to stderr: %v\n", dir, err)
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "pjabberd.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: cannot open log file, falling back to stderr: %v\n", err)
		return
	}
	file = f
	out = f
}

// Close releases the underlying log file, if one was opened.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
		out = os.Stderr
	}
}

func logf(level Level, prefix, format string, args ...interface{}) {
	mu.Lock()
	w := out
	skip := level < threshold
	mu.Unlock()
	if skip {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.New(w, prefix, log.LstdFlags|log.Lmicroseconds).Output(3, msg)
}

func Debugf(format string, args ...interface{}) { logf(DebugLevel, "[DBUG] ", format, args...) }
func Infof(format string, args ...interface{})  { logf(InfoLevel, "[INFO] ", format, args...) }
func Warnf(format string, args ...interface{})  { logf(WarnLevel, "[WARN] ", format, args...) }
func Errorf(format string, args ...interface{}) { logf(ErrorLevel, "[ERRO] ", format, args...) }

// Error is the zero-format-args convenience c2s/c2s.go calls with a bare
// error value.
func Error(err error) {
	if err == nil {
		return
	}
	logf(ErrorLevel, "[ERRO] ", "%v", err)
}

// Fatalf logs at FatalLevel and terminates the process, matching
// s2s/scionserver.go's log.Fatalf call sites.
func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, "[FATL] ", format, args...)
	os.Exit(1)
}
