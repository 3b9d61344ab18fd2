// ABOUTME: Latest-known playback state shared with the application
// ABOUTME: Per-field atomics plus volume and RTP progress conversion
package airstream

import (
	"bytes"
	"math"
	"sync/atomic"
	"time"

	"github.com/airstream-go/airstream/pkg/dmap"
)

// AirPlay volume scale
const (
	VolumeMin  float32 = -30
	VolumeMax  float32 = 0
	VolumeMute float32 = -144
)

// PlaybackState is a snapshot of the most recent values reported by any
// session. It owns its Metadata and CoverArt. Fields are updated independently; two fields the sender changed
// together may be observed at different times.
type PlaybackState struct {
	Volume   float32
	Metadata dmap.Metadata
	CoverArt []byte
	Position time.Duration
	Duration time.Duration
}

// Muted reports whether the sender has muted playback
func (p PlaybackState) Muted() bool {
	return IsMuted(p.Volume)
}

type playback struct {
	volume   atomic.Uint32 // math.Float32bits
	metadata atomic.Pointer[dmap.Metadata]
	coverArt atomic.Pointer[[]byte]
	position atomic.Int64
	duration atomic.Int64
}

func (p *playback) setVolume(v float32) {
	p.volume.Store(math.Float32bits(v))
}

func (p *playback) setMetadata(md dmap.Metadata) {
	p.metadata.Store(&md)
}

func (p *playback) setCoverArt(art []byte) {
	p.coverArt.Store(&art)
}

func (p *playback) setProgress(position, duration time.Duration) {
	p.position.Store(int64(position))
	p.duration.Store(int64(duration))
}

func (p *playback) gain() float64 {
	return VolumeToGain(math.Float32frombits(p.volume.Load()))
}

func (p *playback) snapshot() PlaybackState {
	s := PlaybackState{
		Volume:   math.Float32frombits(p.volume.Load()),
		Position: time.Duration(p.position.Load()),
		Duration: time.Duration(p.duration.Load()),
	}
	if md := p.metadata.Load(); md != nil {
		s.Metadata = md.Clone()
	}
	if art := p.coverArt.Load(); art != nil {
		s.CoverArt = bytes.Clone(*art)
	}
	return s
}

// IsMuted reports whether v is the mute value or below the usable range
func IsMuted(v float32) bool {
	return v <= VolumeMute || v < VolumeMin
}

// VolumeToGain converts AirPlay dB volume to a linear amplitude multiplier
func VolumeToGain(v float32) float64 {
	if IsMuted(v) {
		return 0
	}
	if v >= VolumeMax {
		return 1
	}
	return math.Pow(10, float64(v)/20)
}

// VolumePercent maps AirPlay dB volume linearly onto 0-100
func VolumePercent(v float32) int {
	if IsMuted(v) {
		return 0
	}
	if v >= VolumeMax {
		return 100
	}
	return int(math.Round(float64((v - VolumeMin) / (VolumeMax - VolumeMin) * 100)))
}

// progressTracker turns RTP timestamps into a playhead that never moves
// backwards within a track.
type progressTracker struct {
	start uint32
	floor time.Duration
	valid bool
}

func (t *progressTracker) update(start, current, end uint32, sampleRate int) (position, duration time.Duration) {
	if !t.valid || start != t.start {
		t.start = start
		t.floor = 0
		t.valid = true
	}

	duration = rtpDuration(end-start, sampleRate)
	position = rtpDuration(current-start, sampleRate)

	// current slightly behind start wraps to a huge value
	if position > duration {
		if current-start > math.MaxUint32/2 {
			position = 0
		} else {
			position = duration
		}
	}

	if position < t.floor {
		position = t.floor
	}
	t.floor = position
	return position, duration
}

// reset drops the floor so a seek backwards is reported as-is
func (t *progressTracker) reset() {
	t.floor = 0
}

func rtpDuration(frames uint32, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(uint64(frames) * uint64(time.Second) / uint64(sampleRate))
}
