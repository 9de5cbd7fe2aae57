package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM16 stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String renders f as e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Of returns the format of seg.
func Of(seg Segment) Format {
	return Format{SampleRate: seg.SampleRate, Channels: seg.Channels}
}

// FormatConverter brings PCM16 segments to Target. Recordings and WAV
// concatenation use one so that agent audio at 24 kHz and caller audio at
// 16 kHz end up in a single playable file.
//
// A converter is not safe for concurrent use.
type FormatConverter struct {
	Target Format

	warnOnce sync.Once
}

// Convert returns seg in the target format. A segment already in the target
// format is returned as is. A segment whose byte count is not a whole number
// of frames comes back with nil Data.
func (c *FormatConverter) Convert(seg Segment) Segment {
	out := Segment{Encoding: EncodingPCM16, SampleRate: c.Target.SampleRate, Channels: c.Target.Channels}
	from := Of(seg)
	if from.Channels <= 0 || len(seg.Data)%(2*from.Channels) != 0 {
		slog.Warn("audio: dropping misaligned pcm segment", "bytes", len(seg.Data), "format", from.String())
		return out
	}
	if from == c.Target {
		return seg
	}
	c.warnOnce.Do(func() {
		slog.Debug("audio: converting pcm", "from", from.String(), "to", c.Target.String())
	})

	samples := decodePCM(seg.Data)
	// Resample before upmixing and after downmixing, whichever moves fewer
	// samples through the interpolator.
	if c.Target.Channels < from.Channels {
		samples = Remix(samples, from.Channels, c.Target.Channels)
		samples = Resample(samples, c.Target.Channels, from.SampleRate, c.Target.SampleRate)
	} else {
		samples = Resample(samples, from.Channels, from.SampleRate, c.Target.SampleRate)
		samples = Remix(samples, from.Channels, c.Target.Channels)
	}
	out.Data = encodePCM(samples)
	return out
}

// Remix maps interleaved frames from one channel count to another. Fewer
// channels average the source channels; more channels repeat the mono mix.
func Remix(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for f := range frames {
		var sum int32
		for ch := range from {
			sum += int32(samples[f*from+ch])
		}
		mix := int16(sum / int32(from))
		for ch := range to {
			out[f*to+ch] = mix
		}
	}
	return out
}

// Resample converts interleaved frames of the given channel count from one
// sample rate to another by linear interpolation.
func Resample(samples []int16, channels, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || channels <= 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(to) / int64(from))
	out := make([]int16, dstFrames*channels)
	step := float64(from) / float64(to)
	for f := range dstFrames {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		next := min(i+1, srcFrames-1)
		for ch := range channels {
			a := float64(samples[i*channels+ch])
			b := float64(samples[next*channels+ch])
			out[f*channels+ch] = int16(a + (b-a)*frac)
		}
	}
	return out
}

func decodePCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func encodePCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
