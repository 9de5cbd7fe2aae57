package audio

import (
	"fmt"
	"log/slog"
)

// Concat joins independently encoded segments of the same encoding into one
// playable buffer.
//
// WAV: the first parseable segment's header is kept; later segments contribute
// only their data chunk payload (resampled to the first segment's format if
// they differ) and the RIFF and data sizes are rewritten to cover the result.
//
// MP3: the first segment keeps its ID3v2 tag; every segment loses its Xing/Info
// frame, whose frame count would otherwise misdeclare the total duration.
//
// A segment whose container cannot be parsed is appended verbatim and a
// warning is logged.
func Concat(enc Encoding, parts ...[]byte) ([]byte, error) {
	switch enc {
	case EncodingPCM16:
		var n int
		for _, p := range parts {
			n += len(p)
		}
		out := make([]byte, 0, n)
		for _, p := range parts {
			out = append(out, p...)
		}
		return out, nil
	case EncodingWAV:
		return concatWAV(parts), nil
	case EncodingMP3:
		return concatMP3(parts), nil
	default:
		return nil, fmt.Errorf("audio: concat: unsupported encoding %s", enc)
	}
}

func concatWAV(parts [][]byte) []byte {
	var (
		out       []byte
		head      WAVInfo
		haveHead  bool
		converter *FormatConverter
	)
	for i, p := range parts {
		if len(p) == 0 {
			continue
		}
		info, err := ParseWAV(p)
		if err != nil {
			slog.Warn("audio: concat: appending malformed wav segment verbatim",
				"segment", i,
				"bytes", len(p),
				"err", err,
			)
			out = append(out, p...)
			continue
		}
		if !haveHead {
			if len(out) > 0 {
				// Verbatim bytes already precede the header; sizes cannot be trusted.
				out = append(out, p...)
				continue
			}
			out = append(out, p[:info.DataOffset+info.DataSize]...)
			head = info
			haveHead = true
			converter = &FormatConverter{Target: Format{SampleRate: info.SampleRate, Channels: info.Channels}}
			continue
		}
		payload := p[info.DataOffset : info.DataOffset+info.DataSize]
		if info.SampleRate != head.SampleRate || info.Channels != head.Channels {
			seg := converter.Convert(Segment{
				Data:       payload,
				Encoding:   EncodingPCM16,
				SampleRate: info.SampleRate,
				Channels:   info.Channels,
			})
			payload = seg.Data
		}
		out = append(out, payload...)
	}
	if haveHead && len(out) >= head.DataOffset {
		patchWAVSizes(out, head)
	}
	return out
}

func concatMP3(parts [][]byte) []byte {
	var out []byte
	first := true
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		if first {
			tag := id3v2Len(p)
			out = append(out, p[:tag]...)
			out = append(out, StripMP3Headers(p[tag:])...)
			first = false
			continue
		}
		out = append(out, StripMP3Headers(p)...)
	}
	return out
}
