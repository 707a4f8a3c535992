// Package tone holds the test signal a simulated microphone sends: one
// period of a 1 kHz sine sampled at 48 kHz.
//
// The table is serialized explicitly as little-endian 16-bit PCM, the wire
// format of a UAC1 S16LE stream, so the byte view is identical on every
// target regardless of its native byte order.
package tone
