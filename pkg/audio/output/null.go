// ABOUTME: Clocked output that consumes audio without a sound device
// ABOUTME: Used for headless receivers and tests
package output

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airstream-go/airstream/pkg/audio"
)

// DefaultNullPeriod is how often Null pulls a period of audio
const DefaultNullPeriod = 10 * time.Millisecond

// Null drains its source at real-time pace and discards the samples
type Null struct {
	period time.Duration

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	gain   *gainControl
	frames atomic.Uint64
	peak   atomic.Uint32
}

// NewNull creates a Null output pulling every DefaultNullPeriod
func NewNull() *Null {
	return NewNullWithPeriod(DefaultNullPeriod)
}

// NewNullWithPeriod creates a Null output with a custom pull period
func NewNullWithPeriod(period time.Duration) *Null {
	if period <= 0 {
		period = DefaultNullPeriod
	}
	return &Null{period: period, gain: newGainControl()}
}

// Open starts pulling from src
func (n *Null) Open(format audio.Format, src io.Reader) error {
	if !format.Valid() {
		return fmt.Errorf("invalid format: %s", format)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopLocked()

	n.stop = make(chan struct{})
	n.done = make(chan struct{})
	go n.run(format, src, n.stop, n.done)

	log.Printf("Audio output initialized: %s (null)", format)
	return nil
}

func (n *Null) run(format audio.Format, src io.Reader, stop, done chan struct{}) {
	defer close(done)

	perPeriod := int(int64(format.SampleRate) * int64(n.period) / int64(time.Second))
	if perPeriod < 1 {
		perPeriod = 1
	}
	fill := newFiller(format, src, n.gain)
	buf := make([]byte, format.BytesForFrames(perPeriod))

	ticker := time.NewTicker(n.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fill(buf, perPeriod)
			n.frames.Add(uint64(perPeriod))
			if format.BitDepth == 16 {
				n.peak.Store(uint32(peak16(buf)))
			}
		}
	}
}

// Close stops pulling
func (n *Null) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked()
	return nil
}

func (n *Null) stopLocked() {
	if n.stop == nil {
		return
	}
	close(n.stop)
	<-n.done
	n.stop = nil
	n.done = nil
}

// SetGain sets the software volume multiplier
func (n *Null) SetGain(gain float64) {
	n.gain.set(gain)
}

// Gain returns the current volume multiplier
func (n *Null) Gain() float64 {
	return n.gain.get()
}

// Frames returns the number of frames consumed since creation
func (n *Null) Frames() uint64 {
	return n.frames.Load()
}

// Peak returns the absolute peak of the last 16-bit period after gain
func (n *Null) Peak() int {
	return int(n.peak.Load())
}

func peak16(pcm []byte) int {
	maxAbs := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if s < 0 {
			s = -s
		}
		if s > maxAbs {
			maxAbs = s
		}
	}
	return maxAbs
}
