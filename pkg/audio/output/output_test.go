// ABOUTME: Audio output tests
// ABOUTME: Verifies gain scaling, source pulling and backend interface conformance
package output

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/airstream-go/airstream/pkg/audio"
)

var (
	_ Output = (*Oto)(nil)
	_ Output = (*Malgo)(nil)
	_ Output = (*Null)(nil)

	_ FrameReader = (*audio.HandoffBuffer)(nil)
)

func pcm16(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestApplyGain16(t *testing.T) {
	tests := []struct {
		name     string
		gain     float64
		expected []int16
	}{
		{"unity", 1, []int16{1000, -1000, 32767, -32768}},
		{"half", 0.5, []int16{500, -500, 16383, -16384}},
		{"mute", 0, []int16{0, 0, 0, 0}},
		{"negative is mute", -1, []int16{0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := pcm16(1000, -1000, 32767, -32768)
			applyGain(pcm, 16, tt.gain)

			for i, want := range tt.expected {
				got := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
				if got != want {
					t.Errorf("sample %d: expected %d, got %d", i, want, got)
				}
			}
		})
	}
}

func TestApplyGain24(t *testing.T) {
	var pcm []byte
	for _, s := range []int32{audio.Max24Bit, audio.Min24Bit, 2000} {
		b := audio.SampleTo24Bit(s)
		pcm = append(pcm, b[:]...)
	}

	applyGain(pcm, 24, 0.5)

	expected := []int32{audio.Max24Bit / 2, audio.Min24Bit / 2, 1000}
	for i, want := range expected {
		got := audio.SampleFrom24Bit([3]byte{pcm[i*3], pcm[i*3+1], pcm[i*3+2]})
		if got != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestApplyGain32(t *testing.T) {
	pcm := make([]byte, 8)
	neg, pos := int32(-400000), int32(400000)
	binary.LittleEndian.PutUint32(pcm, uint32(neg))
	binary.LittleEndian.PutUint32(pcm[4:], uint32(pos))

	applyGain(pcm, 32, 0.25)

	if got := int32(binary.LittleEndian.Uint32(pcm)); got != -100000 {
		t.Errorf("expected -100000, got %d", got)
	}
	if got := int32(binary.LittleEndian.Uint32(pcm[4:])); got != 100000 {
		t.Errorf("expected 100000, got %d", got)
	}
}

func TestGainControlClamps(t *testing.T) {
	g := newGainControl()
	if g.get() != 1 {
		t.Errorf("expected default gain 1, got %f", g.get())
	}

	g.set(2)
	if g.get() != 1 {
		t.Errorf("expected gain clamped to 1, got %f", g.get())
	}

	g.set(-0.5)
	if g.get() != 0 {
		t.Errorf("expected gain clamped to 0, got %f", g.get())
	}

	g.set(0.3)
	if g.get() != 0.3 {
		t.Errorf("expected 0.3, got %f", g.get())
	}
}

func TestGainReader(t *testing.T) {
	g := newGainControl()
	g.set(0.5)

	r := &gainReader{src: bytes.NewReader(pcm16(100, -100)), bitDepth: 16, gain: g}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if !bytes.Equal(out, pcm16(50, -50)) {
		t.Errorf("expected scaled samples, got %v", out)
	}
}

func TestFillerPadsShortReads(t *testing.T) {
	format := audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
	g := newGainControl()

	fill := newFiller(format, bytes.NewReader(pcm16(7, 7)), g)
	out := bytes.Repeat([]byte{0xff}, format.BytesForFrames(4))
	fill(out, 4)

	if !bytes.Equal(out[:4], pcm16(7, 7)) {
		t.Errorf("expected first frame copied, got %v", out[:4])
	}
	for i, b := range out[4:] {
		if b != 0 {
			t.Fatalf("expected silence at byte %d, got %d", i+4, b)
		}
	}
}

func TestFillerUsesFrameReader(t *testing.T) {
	format := audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
	buf := audio.NewHandoffBuffer(format, 64)
	buf.Write(pcm16(10, 20, 30, 40))

	g := newGainControl()
	g.set(0.5)
	fill := newFiller(format, buf, g)

	// Device period longer than the frame count requested
	out := make([]byte, 16)
	fill(out, 2)

	if !bytes.Equal(out[:8], pcm16(5, 10, 15, 20)) {
		t.Errorf("expected gained frames, got %v", out[:8])
	}
	if buf.Len() != 0 {
		t.Errorf("expected buffer drained, got %d bytes", buf.Len())
	}
}

func TestMalgoFormat(t *testing.T) {
	for _, depth := range []int{16, 24, 32} {
		f, err := malgoFormat(depth)
		if err != nil {
			t.Errorf("%d-bit: unexpected error: %v", depth, err)
		}
		if name := formatName(f); name == "" || name[0] != 'S' {
			t.Errorf("%d-bit: unexpected format name %q", depth, name)
		}
	}

	if _, err := malgoFormat(8); err == nil {
		t.Error("expected error for 8-bit")
	}
}

func TestOtoRejectsNon16Bit(t *testing.T) {
	o := NewOto()
	err := o.Open(audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 24}, bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expected error for 24-bit format")
	}

	o.SetGain(0.25)
	if o.Gain() != 0.25 {
		t.Errorf("expected gain 0.25, got %f", o.Gain())
	}

	// Close without a context is a no-op
	if err := o.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestNullPullsAtRealTime(t *testing.T) {
	format := audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
	buf := audio.NewHandoffBufferForDuration(format, 500)
	buf.Write(bytes.Repeat(pcm16(1000, -1000), 441))

	out := NewNullWithPeriod(5 * time.Millisecond)
	out.SetGain(0.5)
	if err := out.Open(format, buf); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for out.Frames() < 441 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := out.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if out.Frames() < 441 {
		t.Errorf("expected at least 441 frames pulled, got %d", out.Frames())
	}
	if buf.Len() != 0 {
		t.Errorf("expected buffer drained, got %d bytes", buf.Len())
	}

	// Close is idempotent
	if err := out.Close(); err != nil {
		t.Errorf("unexpected error on second close: %v", err)
	}
}

func TestNullRejectsInvalidFormat(t *testing.T) {
	if err := NewNull().Open(audio.Format{}, bytes.NewReader(nil)); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestPeak16(t *testing.T) {
	if p := peak16(pcm16(10, -300, 200)); p != 300 {
		t.Errorf("expected peak 300, got %d", p)
	}
}
