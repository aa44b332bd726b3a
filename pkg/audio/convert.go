package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// ToMono16 converts 16-bit PCM in format from to mono at dstRate. Channels
// are averaged first, then the result is resampled.
func ToMono16(pcm []byte, from Format, dstRate int) []byte {
	if from.Channels > 1 {
		pcm = Downmix(pcm, from.Channels)
	}
	return ResampleMono16(pcm, from.SampleRate, dstRate)
}

// Downmix averages interleaved channels into mono. Uses int32 arithmetic so
// the sum cannot overflow.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[i*stride+ch*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(i int) int16 { return int16(binary.LittleEndian.Uint16(pcm[i*2:])) }

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
