// Package opusx selects an Opus implementation at build time: libopus through
// cgo when available, a pure Go port otherwise. Both expose the same API.
package opusx

// MaxFrameSamples is the per-channel sample count of the longest Opus
// packet (120 ms) at sampleRate.
func MaxFrameSamples(sampleRate int) int {
	return sampleRate * 120 / 1000
}
