// ABOUTME: Linear interpolation resampler for converting audio sample rates
// ABOUTME: Carries the last input frame between calls so chunk boundaries are seamless
package resample

// Resampler performs linear interpolation to convert between sample rates.
// It is stateful: consecutive calls continue the same stream.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64

	// position of the next output frame, in input frames relative to prev
	position float64
	prev     []int32
	primed   bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		prev:       make([]int32, channels),
	}
}

// Resample converts interleaved input samples at inputRate into output at
// outputRate and returns the number of samples written. Every input frame is
// consumed; output must hold at least OutputSamplesNeeded(len(input)) samples.
func (r *Resampler) Resample(input []int32, output []int32) int {
	ch := r.channels
	if len(input) < ch {
		return 0
	}

	if !r.primed {
		copy(r.prev, input[:ch])
		input = input[ch:]
		r.primed = true
	}

	// Frame 0 is prev, frame i > 0 is input frame i-1
	frameAt := func(i, c int) int32 {
		if i == 0 {
			return r.prev[c]
		}
		return input[(i-1)*ch+c]
	}

	inputFrames := len(input) / ch
	outputFrames := len(output) / ch

	outIdx := 0
	for outIdx < outputFrames {
		idx := int(r.position)
		if idx+1 > inputFrames {
			break
		}
		frac := r.position - float64(idx)

		for c := 0; c < ch; c++ {
			s1 := float64(frameAt(idx, c))
			s2 := float64(frameAt(idx+1, c))
			output[outIdx*ch+c] = int32(s1*(1-frac) + s2*frac)
		}

		outIdx++
		r.position += r.ratio
	}

	if inputFrames > 0 {
		copy(r.prev, input[(inputFrames-1)*ch:inputFrames*ch])
		r.position -= float64(inputFrames)
		if r.position < 0 {
			// output filled up before the input ran out
			r.position = 0
		}
	}

	return outIdx * ch
}

// Reset forgets stream state, e.g. after a flush
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	clear(r.prev)
}

// OutputSamplesNeeded returns an upper bound on the samples produced from
// inputSamples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames)*r.ratio) + 1
	return inputFrames * r.channels
}
