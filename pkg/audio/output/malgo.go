// ABOUTME: Malgo-based audio output implementation with 16/24/32-bit support
// ABOUTME: The device callback pulls whole periods straight from the session buffer
package output

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/gen2brain/malgo"
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	gain     *gainControl
}

// NewMalgo creates a new Malgo output
func NewMalgo() *Malgo {
	return &Malgo{gain: newGainControl()}
}

// malgoFormat maps bit depth to the miniaudio sample format
func malgoFormat(bitDepth int) (malgo.FormatType, error) {
	switch bitDepth {
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatS32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", bitDepth)
	}
}

// Open initializes a playback device whose callback reads from src
func (m *Malgo) Open(format audio.Format, src io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sampleFormat, err := malgoFormat(format.BitDepth)
	if err != nil {
		return err
	}

	if m.device != nil {
		log.Printf("Reinitializing device for %s", format)
		m.closeDevice()
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = sampleFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	fill := newFiller(format, src, m.gain)
	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			fill(pOutputSample, int(frameCount))
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}

	m.device = device
	m.format = format

	log.Printf("Audio output initialized: %s (malgo/%s)", format, formatName(sampleFormat))
	return nil
}

// newFiller returns the render callback body. It never blocks: FrameReader
// sources fill the device buffer in place, others are read once and any
// shortfall is silence.
func newFiller(format audio.Format, src io.Reader, gain *gainControl) func(out []byte, frames int) {
	fr, direct := src.(FrameReader)

	return func(out []byte, frames int) {
		if limit := len(out) / format.FrameSize(); frames > limit {
			frames = limit
		}
		out = out[:format.BytesForFrames(frames)]

		if direct {
			fr.ReadFrames(out[:0], frames)
		} else {
			n, _ := src.Read(out)
			clear(out[n:])
		}
		applyGain(out, format.BitDepth, gain.get())
	}
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			log.Printf("Warning: device stop error: %v", err)
		}
		m.device.Uninit()
		m.device = nil
	}
}

// SetGain sets the software volume multiplier
func (m *Malgo) SetGain(gain float64) {
	m.gain.set(gain)
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
