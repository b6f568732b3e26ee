// Package cos provides low-level helpers shared across the coordinator.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"strconv"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Alphabet for generating short IDs, same scheme as the teacher's
// shortid.DEFAULT_ABC (len > 0x3f matters for GenTie's mask).
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const LenShortID = 9

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

// InitIDGen seeds the ID generator; call once at process startup with a
// value that differs across coordinator instances (e.g. PNN).
func InitIDGen(seed uint64) {
	sid = shortid.MustNew(4, uuidABC, seed)
}

// GenUUID mints a short unique identifier, seeding the generator with 1 if
// InitIDGen has not been called.
func GenUUID() string {
	if sid == nil {
		InitIDGen(1)
	}
	return sid.MustGenerate()
}

// GenTie produces a short, fast tie-breaker string, e.g. to disambiguate two
// election messages that otherwise compare equal under `beats`.
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[-tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}

// HashPNN produces a stable, compact digest of a PNN for log correlation.
func HashPNN(pnn int32) string {
	digest := xxhash.Checksum64S([]byte(strconv.Itoa(int(pnn))), 0)
	return strconv.FormatUint(digest, 36)
}

func IsValidUUID(uuid string) bool { return len(uuid) >= LenShortID }

func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
