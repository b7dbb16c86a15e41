// Package invariant centralizes the fail-fast checks used across the
// agent core for programmer-invariant violations (as opposed to
// protocol violations from a misbehaving peer, which are logged and
// dropped rather than fatal).
package invariant

import "fmt"

// Check panics if cond is false. Use this only for conditions that a
// correct caller can never trigger (duplicate task-ID in an executor,
// and similar).
func Check(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("invariant violation: "+format, args...))
	}
}
