// Package nlog is the coordinator's logger: unbuffered (each line is written
// as it is logged), timestamped, severity-leveled, source-location-tagged
// lines, with optional file output.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevChar = "IWE"

var (
	toStderr     bool
	alsoToStderr bool

	logDir  string
	aisrole string
	title   string

	stopping atomic.Bool

	mu  sync.Mutex
	out = map[severity]*os.File{
		sevInfo: os.Stdout,
		sevErr:  os.Stderr,
	}
)

func InitFlags() {
	if v := os.Getenv("NLOG_TOSTDERR"); v == "1" {
		toStderr = true
	}
	if v := os.Getenv("NLOG_ALSOSTDERR"); v == "1" {
		alsoToStderr = true
	}
}

func SetLogDirRole(dir, role string) { logDir, aisrole = dir, role }
func SetTitle(s string)              { title = s }

// SetOutput redirects a severity's output (nil restores the default stdout/stderr split).
func SetOutput(sev int, f *os.File) {
	mu.Lock()
	if f == nil {
		if sev == int(sevErr) {
			f = os.Stderr
		} else {
			f = os.Stdout
		}
	}
	out[severity(sev)] = f
	mu.Unlock()
}

func Stopping() bool  { return stopping.Load() }
func SetStopping(v bool) { stopping.Store(v) }

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

// Flush is a no-op placeholder for parity with buffered loggers that batch
// writes; this logger writes synchronously, so there is nothing to drain.
func Flush(...bool) {}

func log(sev severity, depth int, format string, args ...any) {
	var b strings.Builder
	formatHdr(sev, depth+1, &b)
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	line := b.String()

	mu.Lock()
	dst := out[sev]
	if dst == nil {
		dst = os.Stdout
	}
	io_writeString(dst, line)
	if alsoToStderr && sev != sevErr && dst != os.Stderr {
		io_writeString(os.Stderr, line)
	}
	if toStderr && dst != os.Stderr {
		io_writeString(os.Stderr, line)
	}
	mu.Unlock()
}

func io_writeString(f *os.File, s string) {
	if f == nil {
		return
	}
	_, _ = f.WriteString(s)
}

func formatHdr(sev severity, depth int, b *strings.Builder) {
	_, fn, ln, ok := runtime.Caller(depth + 1)
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
		fn = fn[idx+1:]
	}
	b.WriteString(fn)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(ln))
	b.WriteByte(' ')
}
