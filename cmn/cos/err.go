// Package cos provides low-level helpers shared across the coordinator:
// error classification (spec.md §7), ID generation, and small utilities.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sync"
	ratomic "sync/atomic"
	"syscall"

	"github.com/xu354cjo1008/ctdb/cmn/nlog"
)

// Error kinds, spec.md §7. TRANSIENT_RPC/DISAGREEMENT/INVARIANT_VIOLATION are
// handled inline by the monitor loop (log + restart iteration); LOCK_LOST
// forces recovery with self as culprit; FATAL_INTERNAL aborts the process.
type Kind int

const (
	KindTransientRPC Kind = iota
	KindDisagreement
	KindInvariantViolation
	KindLockLost
	KindFatalInternal
)

func (k Kind) String() string {
	switch k {
	case KindTransientRPC:
		return "transient-rpc"
	case KindDisagreement:
		return "disagreement"
	case KindInvariantViolation:
		return "invariant-violation"
	case KindLockLost:
		return "lock-lost"
	case KindFatalInternal:
		return "fatal-internal"
	default:
		return "unknown"
	}
}

// KindError wraps an underlying cause with one of the five error kinds so
// that callers up the stack (monitor, recovery) can switch on it without
// re-parsing strings.
type KindError struct {
	kind  Kind
	cause error
}

func NewKindError(k Kind, cause error) *KindError { return &KindError{kind: k, cause: cause} }

func (e *KindError) Error() string { return e.kind.String() + ": " + e.cause.Error() }
func (e *KindError) Unwrap() error { return e.cause }
func (e *KindError) Kind() Kind    { return e.kind }

func ErrKind(err error) (Kind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}

func IsKind(err error, k Kind) bool {
	kind, ok := ErrKind(err)
	return ok && kind == k
}

type (
	ErrNotFound struct{ what string }

	// Errs collects up to maxErrs distinct errors, e.g. the per-peer errors
	// of one fan-out, deduplicating by message (mirrors the teacher's
	// cmn/cos.Errs).
	Errs struct {
		errs []error
		cnt  int64
		mu   sync.Mutex
	}
)

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

const maxErrs = 8

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			e.mu.Unlock()
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
	e.mu.Unlock()
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...)
		e.mu.Unlock()
	}
	return
}

func (e *Errs) Error() (s string) {
	cnt := e.Cnt()
	if cnt == 0 {
		return ""
	}
	e.mu.Lock()
	first := e.errs[0]
	e.mu.Unlock()
	if cnt > 1 {
		return fmt.Sprintf("%v (and %d more error%s)", first, cnt-1, Plural(cnt-1))
	}
	return first.Error()
}

//
// connection-error classification (for TRANSIENT_RPC detection in `peer`)
//

func IsEOF(err error) bool { return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) }

func isErrDNSLookup(err error) bool {
	var e *net.DNSError
	return errors.As(err, &e)
}

func IsRetriableConnErr(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func IsUnreachable(err error) bool {
	return IsRetriableConnErr(err) ||
		isErrDNSLookup(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		IsEOF(err)
}

//
// abnormal termination — FATAL_INTERNAL (spec.md §7)
//

const fatalPrefix = "FATAL ERROR: "

// ExitLogf logs and aborts the process; used exclusively for FATAL_INTERNAL
// (allocation failure, programmer error) — never for TRANSIENT_RPC,
// DISAGREEMENT, or INVARIANT_VIOLATION, which the monitor loop swallows and
// retries.
func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	nlog.ErrorDepth(1, msg)
	_exit(msg)
}

func ExitLog(a ...any) {
	msg := fatalPrefix + fmt.Sprint(a...)
	nlog.ErrorDepth(1, msg)
	_exit(msg)
}

func _exit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func Err2ClientURLErr(err error) (uerr *url.Error) {
	var e *url.Error
	if errors.As(err, &e) {
		uerr = e
	}
	return
}
