// Package testutil provides shared testing infrastructure for the store and
// bridge tests: deterministic payload generation and a failure-injecting
// store wrapper with concurrency accounting.
//
// Usage:
//
//	payload := testutil.Payload(25 * 1024 * 1024)
//	faulty := testutil.NewFaultStore(memory.New())
//	faulty.FailPart(2, someError)
package testutil

// Payload returns n deterministic bytes. The same n always produces the
// same bytes, so content mismatches in round-trip tests point at real bugs
// rather than seed drift.
func Payload(n int) []byte {
	buf := make([]byte, n)
	// xorshift keeps generation fast for multi-MiB payloads.
	state := uint64(0x9E3779B97F4A7C15)
	for i := range buf {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		buf[i] = byte(state)
	}
	return buf
}
