// ABOUTME: Tests for the audio handoff buffer
// ABOUTME: Covers drop-oldest overflow, silence on underrun, flush and close
package audio

import (
	"bytes"
	"io"
	"sync"
	"testing"
)

var cdFormat = Format{SampleRate: 44100, Channels: 2, BitDepth: 16}

func sequence(start, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(start + i)
	}
	return out
}

func TestNewHandoffBufferRoundsToFrames(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		expected int
	}{
		{"exact", 4096, 4096},
		{"partial frame", 4099, 4096},
		{"below one frame", 2, 4},
		{"zero", 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewHandoffBuffer(cdFormat, tt.capacity)
			if b.Cap() != tt.expected {
				t.Errorf("expected capacity %d, got %d", tt.expected, b.Cap())
			}
		})
	}
}

func TestHandoffBufferForDuration(t *testing.T) {
	b := NewHandoffBufferForDuration(cdFormat, 500)
	if b.Cap() != 88200 {
		t.Errorf("expected 88200 bytes for 500ms, got %d", b.Cap())
	}
}

func TestHandoffWriteReadInOrder(t *testing.T) {
	b := NewHandoffBuffer(cdFormat, 8192)
	data := sequence(0, 4096)

	n, err := b.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write returned (%d, %v)", n, err)
	}

	out := b.ReadFrames(nil, 1024)
	if len(out) != 1024*4 {
		t.Fatalf("expected %d bytes, got %d", 1024*4, len(out))
	}
	if !bytes.Equal(out, data) {
		t.Error("read data does not match written data")
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", b.Len())
	}
}

func TestHandoffReadAlwaysFullLength(t *testing.T) {
	tests := []struct {
		name     string
		buffered int
		frames   int
	}{
		{"empty", 0, 256},
		{"partial", 100, 256},
		{"exact", 1024, 256},
		{"surplus", 4000, 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewHandoffBuffer(cdFormat, 8192)
			b.Write(sequence(1, tt.buffered))

			out := b.ReadFrames(nil, tt.frames)
			if len(out) != tt.frames*4 {
				t.Fatalf("expected %d bytes, got %d", tt.frames*4, len(out))
			}

			avail := tt.buffered
			if avail > len(out) {
				avail = len(out)
			}
			if !bytes.Equal(out[:avail], sequence(1, avail)) {
				t.Error("buffered prefix does not match written data")
			}
			for i := avail; i < len(out); i++ {
				if out[i] != 0 {
					t.Fatalf("expected silence at byte %d, got %d", i, out[i])
				}
			}
		})
	}
}

func TestHandoffOverflowKeepsNewestWindow(t *testing.T) {
	const capacity = 64

	tests := []struct {
		name   string
		writes []int
	}{
		{"many small writes", []int{16, 16, 16, 16, 16, 16}},
		{"single oversized write", []int{200}},
		{"mixed", []int{40, 8, 100, 12}},
		{"exactly full then one more", []int{64, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewHandoffBuffer(cdFormat, capacity)

			var all []byte
			next := 0
			for _, n := range tt.writes {
				chunk := sequence(next, n)
				next += n
				all = append(all, chunk...)
				if w, _ := b.Write(chunk); w != n {
					t.Fatalf("expected Write to report %d, got %d", n, w)
				}
			}

			if b.Len() != capacity {
				t.Fatalf("expected buffer to be full (%d), got %d", capacity, b.Len())
			}

			out := b.ReadFrames(nil, capacity/4)
			if !bytes.Equal(out, all[len(all)-capacity:]) {
				t.Errorf("expected newest %d bytes, got %v", capacity, out)
			}

			stats := b.Stats()
			if stats.Dropped != uint64(len(all)-capacity) {
				t.Errorf("expected %d dropped bytes, got %d", len(all)-capacity, stats.Dropped)
			}
		})
	}
}

func TestHandoffWrapAround(t *testing.T) {
	b := NewHandoffBuffer(cdFormat, 16)

	b.Write(sequence(0, 12))
	b.ReadFrames(nil, 2) // consume 8
	b.Write(sequence(12, 12))

	out := b.ReadFrames(nil, 4)
	if !bytes.Equal(out, sequence(8, 16)) {
		t.Errorf("unexpected data after wrap: %v", out)
	}
}

func TestHandoffFlushThenReadIsSilence(t *testing.T) {
	b := NewHandoffBuffer(cdFormat, 4096)
	b.Write(bytes.Repeat([]byte{0x7f}, 2048))

	b.Flush()

	out := b.ReadFrames(nil, 128)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("expected silence after flush, byte %d = %d", i, v)
		}
	}
	if b.Stats().Flushes != 1 {
		t.Errorf("expected 1 flush, got %d", b.Stats().Flushes)
	}
}

func TestHandoffReuseDestination(t *testing.T) {
	b := NewHandoffBuffer(cdFormat, 4096)
	dst := make([]byte, 0, 1024)

	out := b.ReadFrames(dst, 64)
	if &out[0] != &dst[:1][0] {
		t.Error("expected ReadFrames to reuse destination storage")
	}
}

func TestHandoffClose(t *testing.T) {
	b := NewHandoffBuffer(cdFormat, 4096)
	b.Write(sequence(1, 512))
	b.Close()

	if !b.Closed() {
		t.Fatal("expected buffer to report closed")
	}

	b.Write(sequence(1, 512))
	if b.Len() != 0 {
		t.Errorf("expected writes after close to be dropped, got %d bytes", b.Len())
	}

	out := b.ReadFrames(nil, 16)
	for _, v := range out {
		if v != 0 {
			t.Fatal("expected silence from closed buffer")
		}
	}

	p := make([]byte, 16)
	if n, err := b.Read(p); n != 0 || err != io.EOF {
		t.Errorf("expected (0, EOF) from closed Read, got (%d, %v)", n, err)
	}
}

func TestHandoffReaderNeverShort(t *testing.T) {
	b := NewHandoffBuffer(cdFormat, 4096)
	b.Write(sequence(1, 10))

	p := make([]byte, 400)
	n, err := b.Read(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(p) {
		t.Errorf("expected full read of %d, got %d", len(p), n)
	}
	if b.Stats().Underruns != 1 {
		t.Errorf("expected 1 underrun, got %d", b.Stats().Underruns)
	}
}

func TestHandoffConcurrentProducerConsumer(t *testing.T) {
	b := NewHandoffBuffer(cdFormat, 1408*4)
	block := bytes.Repeat([]byte{1, 2, 3, 4}, 352)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			b.Write(block)
		}
	}()

	go func() {
		defer wg.Done()
		dst := make([]byte, 0, 1024)
		for i := 0; i < 2000; i++ {
			out := b.ReadFrames(dst, 256)
			if len(out) != 1024 {
				t.Errorf("short read: %d", len(out))
				return
			}
			// Frames are never torn: each frame is either data or silence.
			for f := 0; f < len(out); f += 4 {
				if out[f] != 0 && !bytes.Equal(out[f:f+4], []byte{1, 2, 3, 4}) {
					t.Errorf("torn frame at %d: %v", f, out[f:f+4])
					return
				}
			}
		}
	}()

	wg.Wait()
}
