// Package mono provides low-level monotonic time, used to time ban/culprit
// windows without drifting when the wall clock is adjusted.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, monotonic.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }
