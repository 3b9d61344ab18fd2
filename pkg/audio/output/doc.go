// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides the pull-based Output interface with oto, malgo and null backends
// Package output provides audio playback backends.
//
// Every backend pulls PCM from an io.Reader on its own schedule, so the
// reader must never block. audio.HandoffBuffer is the intended source: it
// pads underruns with silence and reports io.EOF once closed.
//
// Backends:
//   - Oto: 16-bit output through ebitengine/oto
//   - Malgo: 16, 24 and 32-bit output through miniaudio
//   - Null: discards audio at real-time pace, for headless use
//
// Example:
//
//	buf := audio.NewHandoffBufferForDuration(format, 500)
//	out := output.NewOto()
//	err := out.Open(format, buf)
//	out.SetGain(0.5)
//	defer out.Close()
package output
