// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines the stream Format, the session handoff buffer and sample conversions
// Package audio provides the PCM types shared by the receiver and its outputs.
//
//   - Format: the negotiated stream format (sample rate, channels, bit depth)
//   - HandoffBuffer: a bounded byte queue between the engine's audio callback
//     and an output that pulls on its own clock
//
// It also provides 24-bit packed sample conversions used by software gain.
//
// Example:
//
//	format := audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
//	buf := audio.NewHandoffBuffer(format, format.BytesPerSecond()/2)
//
//	buf.Write(block)           // engine side, never blocks
//	n, _ := buf.Read(out)      // output side, pads underruns with silence
package audio
