// ABOUTME: io.Reader that resamples 16-bit little-endian PCM
// ABOUTME: Lets an output fixed at one sample rate play streams at another
package resample

import (
	"encoding/binary"
	"io"
)

// Reader resamples interleaved 16-bit little-endian PCM read from src
type Reader struct {
	src       io.Reader
	resampler *Resampler
	frameSize int

	in      []byte
	rem     []byte // partial frame left over from the last read
	samples []int32
	out     []int32
	buf     []byte
	pending []byte
}

// NewReader converts src from inputRate to outputRate
func NewReader(src io.Reader, inputRate, outputRate, channels int) *Reader {
	return &Reader{
		src:       src,
		resampler: New(inputRate, outputRate, channels),
		frameSize: channels * 2,
	}
}

func (rd *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(rd.pending) == 0 {
		want := rd.resampler.InputSamplesNeeded(len(p)/2) * 2
		if want < rd.frameSize {
			want = rd.frameSize
		}

		size := len(rd.rem) + want
		if cap(rd.in) < size {
			rd.in = make([]byte, size)
		}
		in := rd.in[:size]
		copy(in, rd.rem)

		n, err := rd.src.Read(in[len(rd.rem):])
		total := len(rd.rem) + n
		whole := total - total%rd.frameSize

		rd.convert(in[:whole])
		rd.rem = append(rd.rem[:0], in[whole:total]...)

		if err != nil {
			if len(rd.pending) > 0 {
				break
			}
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
	}

	n := copy(p, rd.pending)
	rd.pending = rd.pending[n:]
	return n, nil
}

func (rd *Reader) convert(data []byte) {
	count := len(data) / 2
	if count == 0 {
		return
	}

	rd.samples = grow(rd.samples, count)
	for i := range rd.samples {
		rd.samples[i] = int32(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}

	rd.out = grow(rd.out, rd.resampler.OutputSamplesNeeded(count))
	produced := rd.resampler.Resample(rd.samples, rd.out)

	if cap(rd.buf) < produced*2 {
		rd.buf = make([]byte, produced*2)
	}
	rd.buf = rd.buf[:produced*2]
	for i, s := range rd.out[:produced] {
		binary.LittleEndian.PutUint16(rd.buf[i*2:], uint16(int16(s)))
	}
	rd.pending = rd.buf
}

func grow(s []int32, n int) []int32 {
	if cap(s) < n {
		return make([]int32, n)
	}
	return s[:n]
}
