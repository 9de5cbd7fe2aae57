// Package audio holds the byte-level audio plumbing used by voice transports:
// segment types, WAV and MP3 container handling, concatenation of independently
// synthesised segments, and the per-session [Recording].
//
// Nothing in this package inspects audio content beyond container headers and
// sample arithmetic.
package audio

import (
	"fmt"
	"time"
)

// Encoding identifies the container/codec of a [Segment].
type Encoding int

const (
	// EncodingPCM16 is raw little-endian signed 16-bit PCM without a container.
	EncodingPCM16 Encoding = iota

	// EncodingWAV is RIFF/WAVE with 16-bit PCM payload.
	EncodingWAV

	// EncodingMP3 is an MPEG-1/2 Layer III frame stream, optionally prefixed by
	// an ID3v2 tag and a Xing/Info header frame.
	EncodingMP3
)

// String returns the lowercase name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	case EncodingWAV:
		return "wav"
	case EncodingMP3:
		return "mp3"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// Segment is one contiguous piece of audio: a synthesised caller utterance or
// a run of agent audio chunks.
type Segment struct {
	// Data is the encoded audio bytes.
	Data []byte

	// Encoding describes how Data is laid out.
	Encoding Encoding

	// SampleRate in Hz. For WAV and MP3 the container value takes precedence.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Duration returns the playback length of the segment. Malformed containers
// yield zero.
func (s Segment) Duration() time.Duration {
	switch s.Encoding {
	case EncodingPCM16:
		return pcmDuration(len(s.Data), s.SampleRate, s.Channels)
	case EncodingWAV:
		info, err := ParseWAV(s.Data)
		if err != nil {
			return 0
		}
		return info.Duration()
	case EncodingMP3:
		return MP3Duration(s.Data)
	default:
		return 0
	}
}

// PCM returns the raw PCM payload of a PCM16 or WAV segment.
func (s Segment) PCM() (Segment, error) {
	switch s.Encoding {
	case EncodingPCM16:
		return s, nil
	case EncodingWAV:
		info, err := ParseWAV(s.Data)
		if err != nil {
			return Segment{}, err
		}
		return Segment{
			Data:       s.Data[info.DataOffset : info.DataOffset+info.DataSize],
			Encoding:   EncodingPCM16,
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
		}, nil
	default:
		return Segment{}, fmt.Errorf("audio: cannot extract PCM from %s", s.Encoding)
	}
}

func pcmDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
