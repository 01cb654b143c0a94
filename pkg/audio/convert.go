package audio

// Resample returns a copy of buf at dstRate using linear interpolation per
// channel. If the rates already match, buf is returned unchanged (zero
// allocation).
func Resample(buf *SampleBuffer, dstRate int) *SampleBuffer {
	if dstRate <= 0 || dstRate == buf.sampleRate {
		return buf
	}
	out := make([][]float32, len(buf.channels))
	for ch, samples := range buf.channels {
		out[ch] = resampleLinear(samples, buf.sampleRate, dstRate)
	}
	return &SampleBuffer{sampleRate: dstRate, channels: out}
}

// resampleLinear resamples one channel from srcRate to dstRate. The last
// source sample is held when interpolating past the end.
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	srcLen := len(samples)
	dstLen := int(int64(srcLen) * int64(dstRate) / int64(srcRate))
	out := make([]float32, dstLen)
	if dstLen == 0 {
		return out
	}
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < srcLen {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Downmix averages all channels of buf into a single mono channel. A mono
// buffer is returned unchanged.
func Downmix(buf *SampleBuffer) *SampleBuffer {
	if len(buf.channels) == 1 {
		return buf
	}
	frames := buf.FramesPerChannel()
	mono := make([]float32, frames)
	scale := 1 / float32(len(buf.channels))
	for i := range frames {
		var sum float32
		for _, ch := range buf.channels {
			sum += ch[i]
		}
		mono[i] = sum * scale
	}
	return &SampleBuffer{sampleRate: buf.sampleRate, channels: [][]float32{mono}}
}
