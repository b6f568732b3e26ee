// Package debug provides cheap-in-production invariant assertions (I1-I9).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
)

// ON reports whether assertions are compiled to do actual work (build tag
// `debug`) or are no-ops, matching the teacher's debug_off.go default.
func ON() bool { return on }

func Assert(cond bool, args ...any) {
	if !on || cond {
		return
	}
	fail(args...)
}

func Assertf(cond bool, format string, args ...any) {
	if !on || cond {
		return
	}
	fail(fmt.Sprintf(format, args...))
}

func AssertNoErr(err error) {
	if !on || err == nil {
		return
	}
	fail(err)
}

func fail(args ...any) {
	fmt.Fprintln(os.Stderr, append([]any{"assertion failed:"}, args...)...)
	panic(fmt.Sprint(args...))
}
