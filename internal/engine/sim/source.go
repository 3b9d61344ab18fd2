// ABOUTME: Audio sources for the simulated sender
// ABOUTME: Test tone, MP3 and FLAC files decoded to looping 16-bit PCM
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dmap"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

const (
	// DefaultSampleRate is the AirPlay audio rate
	DefaultSampleRate = 44100

	// DefaultChannels is stereo
	DefaultChannels = 2

	toneFrequency = 440.0
	toneLength    = 180 // seconds per simulated track
)

// Source provides 16-bit little-endian interleaved PCM. File sources loop
// at end of stream, so Read only fails on decode errors.
type Source interface {
	Format() audio.Format
	Read(p []byte) (int, error)
	// Frames returns the track length in frames, or 0 when unknown
	Frames() uint64
	Metadata() dmap.Metadata
	Close() error
}

// NewSource opens an .mp3 or .flac file. An empty path gives a test tone.
func NewSource(path string) (Source, error) {
	if path == "" {
		return NewToneSource(), nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return NewMP3Source(path)
	case ".flac":
		return NewFLACSource(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
}

func fileMetadata(path string, frames uint64, rate int) dmap.Metadata {
	filename := filepath.Base(path)
	md := dmap.Metadata{
		dmap.KeyTitle:  strings.TrimSuffix(filename, filepath.Ext(filename)),
		dmap.KeyArtist: "Unknown Artist",
		dmap.KeyAlbum:  "Unknown Album",
	}
	if frames > 0 && rate > 0 {
		md[dmap.KeyTime] = strconv.FormatUint(frames*1000/uint64(rate), 10)
	}
	return md
}

// ToneSource generates a 440Hz sine wave
type ToneSource struct {
	format      audio.Format
	sampleIndex uint64
	frequency   float64
}

// NewToneSource creates a new test tone generator
func NewToneSource() *ToneSource {
	return &ToneSource{
		format:    audio.Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels, BitDepth: 16},
		frequency: toneFrequency,
	}
}

func (s *ToneSource) Read(p []byte) (int, error) {
	frame := s.format.FrameSize()
	frames := len(p) / frame

	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.format.SampleRate)
		// 50% volume
		v := uint16(int16(math.Sin(2*math.Pi*s.frequency*t) * 32767.0 * 0.5))
		for ch := 0; ch < s.format.Channels; ch++ {
			binary.LittleEndian.PutUint16(p[i*frame+ch*2:], v)
		}
	}
	s.sampleIndex += uint64(frames)

	return frames * frame, nil
}

func (s *ToneSource) Format() audio.Format { return s.format }
func (s *ToneSource) Frames() uint64       { return toneLength * uint64(s.format.SampleRate) }
func (s *ToneSource) Close() error         { return nil }

func (s *ToneSource) Metadata() dmap.Metadata {
	return dmap.Metadata{
		dmap.KeyTitle:  "Test Tone",
		dmap.KeyArtist: "Airstream",
		dmap.KeyAlbum:  "Simulated Sender",
		dmap.KeyTime:   strconv.Itoa(toneLength * 1000),
	}
}

// MP3Source reads from an MP3 file
type MP3Source struct {
	file     *os.File
	decoder  *mp3.Decoder
	format   audio.Format
	frames   uint64
	metadata dmap.Metadata
}

// NewMP3Source creates a new MP3 audio source
func NewMP3Source(path string) (*MP3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	// go-mp3 always decodes to 16-bit stereo
	format := audio.Format{SampleRate: decoder.SampleRate(), Channels: 2, BitDepth: 16}
	var frames uint64
	if n := decoder.Length(); n > 0 {
		frames = uint64(n) / uint64(format.FrameSize())
	}

	s := &MP3Source{
		file:     f,
		decoder:  decoder,
		format:   format,
		frames:   frames,
		metadata: fileMetadata(path, frames, format.SampleRate),
	}
	log.Printf("Loaded MP3: %s (%s)", s.metadata.Title(), format)
	return s, nil
}

func (s *MP3Source) Read(p []byte) (int, error) {
	p = p[:len(p)-len(p)%s.format.FrameSize()]
	total := 0
	rewound := false

	for total < len(p) {
		n, err := s.decoder.Read(p[total:])
		total += n
		if errors.Is(err, io.EOF) {
			// An empty stream would rewind forever
			if rewound && n == 0 {
				return total, io.ErrUnexpectedEOF
			}
			if _, err := s.decoder.Seek(0, io.SeekStart); err != nil {
				return total, fmt.Errorf("failed to seek to start: %w", err)
			}
			rewound = true
			continue
		}
		if err != nil {
			return total, err
		}
		if n > 0 {
			rewound = false
		}
	}

	return total, nil
}

func (s *MP3Source) Format() audio.Format    { return s.format }
func (s *MP3Source) Frames() uint64          { return s.frames }
func (s *MP3Source) Metadata() dmap.Metadata { return s.metadata.Clone() }
func (s *MP3Source) Close() error            { return s.file.Close() }

// FLACSource reads from a FLAC file, reduced to 16-bit
type FLACSource struct {
	file     *os.File
	stream   *flac.Stream
	format   audio.Format
	bitDepth int
	frames   uint64
	metadata dmap.Metadata
	pending  []byte
}

// NewFLACSource creates a new FLAC audio source
func NewFLACSource(path string) (*FLACSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	format := audio.Format{SampleRate: int(info.SampleRate), Channels: int(info.NChannels), BitDepth: 16}

	s := &FLACSource{
		file:     f,
		stream:   stream,
		format:   format,
		bitDepth: int(info.BitsPerSample),
		frames:   info.NSamples,
		metadata: fileMetadata(path, info.NSamples, format.SampleRate),
	}
	log.Printf("Loaded FLAC: %s (%s, source %d-bit)", s.metadata.Title(), format, s.bitDepth)
	return s, nil
}

func (s *FLACSource) Read(p []byte) (int, error) {
	p = p[:len(p)-len(p)%s.format.FrameSize()]
	total := 0
	rewound := false

	for total < len(p) {
		if len(s.pending) > 0 {
			n := copy(p[total:], s.pending)
			s.pending = s.pending[n:]
			total += n
			rewound = false
			continue
		}

		frame, err := s.stream.ParseNext()
		if errors.Is(err, io.EOF) {
			if rewound {
				return total, io.ErrUnexpectedEOF
			}
			if err := s.rewind(); err != nil {
				return total, err
			}
			rewound = true
			continue
		}
		if err != nil {
			return total, err
		}

		buf := make([]byte, 0, int(frame.BlockSize)*s.format.FrameSize())
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < s.format.Channels; ch++ {
				sample := to16(frame.Subframes[ch].Samples[i], s.bitDepth)
				buf = binary.LittleEndian.AppendUint16(buf, uint16(sample))
			}
		}
		s.pending = buf
	}

	return total, nil
}

func (s *FLACSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	stream, err := flac.New(s.file)
	if err != nil {
		return fmt.Errorf("failed to create new stream: %w", err)
	}
	s.stream = stream
	return nil
}

// to16 scales a sample of the given bit depth to 16 bits
func to16(sample int32, bitDepth int) int16 {
	shift := bitDepth - 16
	if shift > 0 {
		return int16(sample >> shift)
	}
	return int16(sample << -shift)
}

func (s *FLACSource) Format() audio.Format    { return s.format }
func (s *FLACSource) Frames() uint64          { return s.frames }
func (s *FLACSource) Metadata() dmap.Metadata { return s.metadata.Clone() }
func (s *FLACSource) Close() error            { return s.file.Close() }
