// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for pull-based playback backends with software gain
package output

import (
	"encoding/binary"
	"io"
	"math"
	"sync/atomic"

	"github.com/airstream-go/airstream/pkg/audio"
)

// Output represents an audio output device. Open starts playback pulling PCM
// from src on the device's own schedule; src must never block.
type Output interface {
	// Open initializes the device for format and starts pulling from src
	Open(format audio.Format, src io.Reader) error

	// Close stops playback and releases the device
	Close() error

	// SetGain sets a linear amplitude multiplier (0 = silent, 1 = unity)
	SetGain(gain float64)
}

// FrameReader is implemented by sources that can fill a whole callback
// period without an intermediate copy, like audio.HandoffBuffer.
type FrameReader interface {
	ReadFrames(dst []byte, frameCount int) []byte
}

// gainControl stores a gain that the render thread reads lock-free
type gainControl struct {
	bits atomic.Uint64
}

func newGainControl() *gainControl {
	g := &gainControl{}
	g.set(1)
	return g
}

func (g *gainControl) set(gain float64) {
	if gain < 0 || math.IsNaN(gain) {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	g.bits.Store(math.Float64bits(gain))
}

func (g *gainControl) get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// applyGain scales little-endian signed PCM in place. Unity gain is a no-op.
func applyGain(pcm []byte, bitDepth int, gain float64) {
	if gain >= 1 {
		return
	}
	if gain <= 0 {
		clear(pcm)
		return
	}

	switch bitDepth {
	case 16:
		for i := 0; i+1 < len(pcm); i += 2 {
			s := int16(binary.LittleEndian.Uint16(pcm[i:]))
			binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(float64(s)*gain)))
		}
	case 24:
		for i := 0; i+2 < len(pcm); i += 3 {
			s := audio.SampleFrom24Bit([3]byte{pcm[i], pcm[i+1], pcm[i+2]})
			scaled := int64(float64(s) * gain)
			if scaled > audio.Max24Bit {
				scaled = audio.Max24Bit
			} else if scaled < audio.Min24Bit {
				scaled = audio.Min24Bit
			}
			b := audio.SampleTo24Bit(int32(scaled))
			copy(pcm[i:i+3], b[:])
		}
	case 32:
		for i := 0; i+3 < len(pcm); i += 4 {
			s := int32(binary.LittleEndian.Uint32(pcm[i:]))
			binary.LittleEndian.PutUint32(pcm[i:], uint32(int32(float64(s)*gain)))
		}
	}
}

// gainReader applies gain to everything read through it
type gainReader struct {
	src      io.Reader
	bitDepth int
	gain     *gainControl
}

func (r *gainReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	applyGain(p[:n], r.bitDepth, r.gain.get())
	return n, err
}
