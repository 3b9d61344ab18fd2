// ABOUTME: Oto-based audio output implementation
// ABOUTME: Pulls 16-bit PCM from the session buffer with software gain using oto
package output

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/audio/resample"
	"github.com/ebitengine/oto/v3"
)

// Oto output implementation using oto library
type Oto struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	sampleRate int
	channels   int
	suspended  bool
	gain       *gainControl
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{gain: newGainControl()}
}

// Open starts a player reading from src
func (o *Oto) Open(format audio.Format, src io.Reader) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	// oto only supports 16-bit integer output
	if format.BitDepth != 16 {
		return fmt.Errorf("oto output supports 16-bit audio only, got %d-bit", format.BitDepth)
	}

	if o.player != nil {
		o.closePlayer()
	}

	// oto allows one context per process. A new sample rate is resampled to
	// the context rate; a new channel count cannot be honored.
	if o.otoCtx != nil && o.channels != format.Channels {
		return fmt.Errorf("oto context is fixed at %d channels, cannot switch to %s",
			o.channels, format)
	}

	if o.otoCtx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan

		o.otoCtx = ctx
		o.sampleRate = format.SampleRate
		o.channels = format.Channels
	} else if o.suspended {
		if err := o.otoCtx.Resume(); err != nil {
			return fmt.Errorf("failed to resume oto context: %w", err)
		}
		o.suspended = false
	}

	if o.sampleRate != format.SampleRate {
		log.Printf("Resampling %dHz to %dHz for oto output", format.SampleRate, o.sampleRate)
		src = resample.NewReader(src, format.SampleRate, o.sampleRate, format.Channels)
	}

	o.player = o.otoCtx.NewPlayer(&gainReader{src: src, bitDepth: 16, gain: o.gain})
	o.player.Play()

	log.Printf("Audio output initialized: %dHz, %d channels (oto)", o.sampleRate, o.channels)
	return nil
}

// Close stops the player and suspends the context
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closePlayer()
	if o.otoCtx != nil && !o.suspended {
		if err := o.otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
		o.suspended = true
	}
	return nil
}

func (o *Oto) closePlayer() {
	if o.player == nil {
		return
	}
	if err := o.player.Close(); err != nil {
		log.Printf("Warning: oto player close error: %v", err)
	}
	o.player = nil
}

// SetGain sets the software volume multiplier
func (o *Oto) SetGain(gain float64) {
	o.gain.set(gain)
}

// Gain returns the current volume multiplier
func (o *Oto) Gain() float64 {
	return o.gain.get()
}
