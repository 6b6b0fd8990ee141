// Package debug provides the invariant-assertion contract from spec.md §7:
// debug builds assert, release builds compile the checks out. Go has no
// build-time preprocessor condition tied to an optimization level the way
// the original engine's _DEBUG macro does, so the toggle is read once at
// process start from an environment variable instead.
package debug

import (
	"fmt"
	"os"
)

var assertsEnabled = os.Getenv("BOXCITY_DEBUG_ASSERTS") == "1"

// Enabled reports whether invariant assertions are currently active.
func Enabled() bool { return assertsEnabled }

// SetEnabled lets tests force assertions on/off regardless of the
// environment, so invariant tests stay deterministic in CI.
func SetEnabled(v bool) { assertsEnabled = v }

// Assert panics with a formatted message if cond is false and assertions
// are enabled. It is a no-op otherwise, matching the "compiled out in
// release" contract for invariant violations (back-pointer consistency,
// AABB-inside-tile, weak-handle reference counts).
func Assert(cond bool, format string, args ...any) {
	if !assertsEnabled {
		return
	}
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
