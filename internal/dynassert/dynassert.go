// Package dynassert provides the single programmer-error-to-panic boundary
// used throughout the back end. Conditions checked here are invariants the
// caller (IR builder, register allocator, lowering table) is expected to
// have already upheld; tripping one means a bug in this module, not bad
// guest code, so it panics rather than returning an error.
//
// No package in this module recovers the panic: it propagates to whoever
// called into the back end (term.EmitBlock, for instance).
package dynassert

import (
	"fmt"

	"github.com/inquisitio/dynarmic/internal/dlog"
)

// Fatalf logs msg at error level and panics with it. Use for conditions
// that should never happen if the rest of the pipeline is correct.
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	dlog.Error(msg)
	panic(msg)
}

// Assert calls Fatalf with msg if cond is false.
func Assert(cond bool, msg string, args ...interface{}) {
	if !cond {
		Fatalf(msg, args...)
	}
}
