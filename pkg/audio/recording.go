package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEncodingMismatch is returned by [Recording.Append] when a segment cannot
// be represented in the recording's container.
var ErrEncodingMismatch = errors.New("audio: segment encoding does not match recording")

// Recording accumulates caller and agent audio of one session, in conversation
// order, into a single playable buffer. It is safe for concurrent use.
type Recording struct {
	mu        sync.Mutex
	enc       Encoding
	converter *FormatConverter
	parts     [][]byte
	duration  time.Duration
}

// NewRecording returns an empty recording. WAV recordings accept PCM16 and WAV
// segments and normalise them to format; MP3 recordings accept MP3 segments
// only. Any other encoding is treated as WAV.
func NewRecording(enc Encoding, format Format) *Recording {
	if enc != EncodingMP3 {
		enc = EncodingWAV
	}
	return &Recording{
		enc:       enc,
		converter: &FormatConverter{Target: format},
	}
}

// Encoding returns the container of the assembled recording.
func (r *Recording) Encoding() Encoding {
	return r.enc
}

// Append adds seg to the end of the recording. Empty segments are ignored.
func (r *Recording) Append(seg Segment) error {
	if len(seg.Data) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enc == EncodingMP3 {
		if seg.Encoding != EncodingMP3 {
			return fmt.Errorf("%w: got %s, want %s", ErrEncodingMismatch, seg.Encoding, r.enc)
		}
		r.parts = append(r.parts, seg.Data)
		r.duration += MP3Duration(seg.Data)
		return nil
	}

	if seg.Encoding == EncodingMP3 {
		return fmt.Errorf("%w: got %s, want %s", ErrEncodingMismatch, seg.Encoding, r.enc)
	}
	pcm, err := seg.PCM()
	if err != nil {
		return fmt.Errorf("audio: recording append: %w", err)
	}
	pcm = r.converter.Convert(pcm)
	if len(pcm.Data) == 0 {
		return nil
	}
	r.parts = append(r.parts, EncodeWAV(pcm.Data, pcm.SampleRate, pcm.Channels))
	r.duration += pcm.Duration()
	return nil
}

// Len returns the number of segments appended so far.
func (r *Recording) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parts)
}

// Duration returns the summed duration of all appended segments.
func (r *Recording) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

// Bytes assembles the recording into one buffer. It returns nil when nothing
// was recorded.
func (r *Recording) Bytes() ([]byte, error) {
	r.mu.Lock()
	parts := make([][]byte, len(r.parts))
	copy(parts, r.parts)
	r.mu.Unlock()

	if len(parts) == 0 {
		return nil, nil
	}
	return Concat(r.enc, parts...)
}
