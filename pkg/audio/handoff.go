// ABOUTME: Bounded handoff buffer between network audio delivery and hardware playback
// ABOUTME: Drops oldest bytes on overflow and pads with silence on underrun
package audio

import (
	"io"
	"sync"
	"sync/atomic"
)

// HandoffBuffer is a fixed-capacity FIFO of raw PCM bytes with one producer
// (the protocol engine delivering audio blocks) and one consumer (the output
// device's render callback).
//
// Neither side ever waits for the other. Write overwrites the oldest data when
// full, and reads always return the full amount requested, zero-filled past the
// buffered data. Storage is allocated once in NewHandoffBuffer; the lock is only
// held for the duration of a copy.
type HandoffBuffer struct {
	format Format

	mu     sync.Mutex
	buf    []byte
	r      int // read offset
	n      int // buffered bytes
	closed bool

	written   atomic.Uint64
	dropped   atomic.Uint64
	underruns atomic.Uint64
	flushes   atomic.Uint64
}

// BufferStats reports handoff buffer counters
type BufferStats struct {
	Written   uint64 // bytes accepted by Write
	Dropped   uint64 // bytes discarded by overflow or after Close
	Underruns uint64 // reads padded with silence
	Flushes   uint64
	Buffered  int
	Capacity  int
}

// NewHandoffBuffer creates a buffer holding up to capacity bytes, rounded
// down to a whole number of frames (minimum one frame).
func NewHandoffBuffer(format Format, capacity int) *HandoffBuffer {
	frame := format.FrameSize()
	if frame <= 0 {
		frame = 1
	}
	capacity -= capacity % frame
	if capacity < frame {
		capacity = frame
	}

	return &HandoffBuffer{
		format: format,
		buf:    make([]byte, capacity),
	}
}

// NewHandoffBufferForDuration sizes a buffer to hold ms milliseconds of audio
func NewHandoffBufferForDuration(format Format, ms int) *HandoffBuffer {
	return NewHandoffBuffer(format, format.BytesPerSecond()*ms/1000)
}

// Format returns the stream format the buffer was created for
func (b *HandoffBuffer) Format() Format {
	return b.format
}

// Write appends p, discarding the oldest buffered bytes if p does not fit.
// It always reports len(p) bytes written.
func (b *HandoffBuffer) Write(p []byte) (int, error) {
	total := len(p)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.dropped.Add(uint64(total))
		return total, nil
	}

	size := len(b.buf)
	if total >= size {
		// Only the newest window survives.
		b.dropped.Add(uint64(b.n + total - size))
		copy(b.buf, p[total-size:])
		b.r = 0
		b.n = size
		b.written.Add(uint64(total))
		return total, nil
	}

	if over := b.n + total - size; over > 0 {
		b.r = (b.r + over) % size
		b.n -= over
		b.dropped.Add(uint64(over))
	}

	w := (b.r + b.n) % size
	k := copy(b.buf[w:], p)
	copy(b.buf, p[k:])
	b.n += total
	b.written.Add(uint64(total))

	return total, nil
}

// ReadFrames returns exactly frameCount frames of audio. dst is reused when it
// has enough capacity. Missing data is returned as silence.
func (b *HandoffBuffer) ReadFrames(dst []byte, frameCount int) []byte {
	need := b.format.BytesForFrames(frameCount)
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	b.fill(dst)
	return dst
}

// Read fills all of p, padding with silence. After Close it returns io.EOF so
// pull-based players stop reading.
func (b *HandoffBuffer) Read(p []byte) (int, error) {
	if b.fill(p) {
		return 0, io.EOF
	}
	return len(p), nil
}

// fill copies buffered bytes into p and zeroes the rest. It reports whether
// the buffer has been closed.
func (b *HandoffBuffer) fill(p []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		clear(p)
		return true
	}

	k := b.n
	if k > len(p) {
		k = len(p)
	}

	if k > 0 {
		size := len(b.buf)
		m := copy(p[:k], b.buf[b.r:])
		copy(p[m:k], b.buf)
		b.r = (b.r + k) % size
		b.n -= k
	}

	if k < len(p) {
		clear(p[k:])
		b.underruns.Add(1)
	}

	return false
}

// Flush discards all buffered audio. Safe to call from either side.
func (b *HandoffBuffer) Flush() {
	b.mu.Lock()
	b.r = 0
	b.n = 0
	b.mu.Unlock()
	b.flushes.Add(1)
}

// Close destroys the buffer contents. Subsequent writes are dropped and reads
// return silence.
func (b *HandoffBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.r = 0
	b.n = 0
	b.mu.Unlock()
}

// Closed reports whether Close has been called
func (b *HandoffBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of buffered bytes
func (b *HandoffBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Cap returns the buffer capacity in bytes
func (b *HandoffBuffer) Cap() int {
	return len(b.buf)
}

// Stats returns a snapshot of the buffer counters
func (b *HandoffBuffer) Stats() BufferStats {
	return BufferStats{
		Written:   b.written.Load(),
		Dropped:   b.dropped.Load(),
		Underruns: b.underruns.Load(),
		Flushes:   b.flushes.Load(),
		Buffered:  b.Len(),
		Capacity:  b.Cap(),
	}
}
