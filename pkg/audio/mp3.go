package audio

import (
	"bytes"
	"time"
)

// Layer III bitrate tables in kbit/s, indexed by the 4-bit bitrate field.
var (
	mp3BitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mp3BitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
)

// Sample rate tables indexed by the 2-bit sample rate field.
var (
	mp3RatesV1  = [4]int{44100, 48000, 32000, 0}
	mp3RatesV2  = [4]int{22050, 24000, 16000, 0}
	mp3RatesV25 = [4]int{11025, 12000, 8000, 0}
)

type mp3Header struct {
	mpeg1      bool
	mono       bool
	sampleRate int
	frameLen   int
	samples    int
}

// parseMP3Header decodes a Layer III frame header at the start of b.
func parseMP3Header(b []byte) (mp3Header, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return mp3Header{}, false
	}
	version := (b[1] >> 3) & 0x03 // 0: 2.5, 2: 2, 3: 1
	layer := (b[1] >> 1) & 0x03   // 1: Layer III
	if version == 1 || layer != 1 {
		return mp3Header{}, false
	}
	brIdx := b[2] >> 4
	srIdx := (b[2] >> 2) & 0x03
	padding := int((b[2] >> 1) & 0x01)
	mode := b[3] >> 6

	var h mp3Header
	h.mono = mode == 3
	var bitrate int
	switch version {
	case 3:
		h.mpeg1 = true
		bitrate = mp3BitratesV1[brIdx]
		h.sampleRate = mp3RatesV1[srIdx]
		h.samples = 1152
	case 2:
		bitrate = mp3BitratesV2[brIdx]
		h.sampleRate = mp3RatesV2[srIdx]
		h.samples = 576
	default:
		bitrate = mp3BitratesV2[brIdx]
		h.sampleRate = mp3RatesV25[srIdx]
		h.samples = 576
	}
	if bitrate == 0 || h.sampleRate == 0 {
		return mp3Header{}, false
	}
	coeff := 72
	if h.mpeg1 {
		coeff = 144
	}
	h.frameLen = coeff*bitrate*1000/h.sampleRate + padding
	return h, h.frameLen > 4
}

// sideInfoLen returns the Layer III side information size for h.
func (h mp3Header) sideInfoLen() int {
	switch {
	case h.mpeg1 && !h.mono:
		return 32
	case h.mpeg1, !h.mono:
		return 17
	default:
		return 9
	}
}

// id3v2Len returns the total length of a leading ID3v2 tag, or 0 if data does
// not start with one.
func id3v2Len(data []byte) int {
	if len(data) < 10 || string(data[0:3]) != "ID3" {
		return 0
	}
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	total := 10 + size
	if data[5]&0x10 != 0 {
		total += 10 // footer
	}
	if total > len(data) {
		return 0
	}
	return total
}

// isInfoFrame reports whether the frame at the start of b carries a Xing,
// Info or VBRI header instead of audio.
func isInfoFrame(b []byte, h mp3Header) bool {
	if len(b) < h.frameLen {
		return false
	}
	off := 4 + h.sideInfoLen()
	if off+4 <= len(b) {
		tag := b[off : off+4]
		if bytes.Equal(tag, []byte("Xing")) || bytes.Equal(tag, []byte("Info")) {
			return true
		}
	}
	return len(b) >= 40 && bytes.Equal(b[36:40], []byte("VBRI"))
}

// StripMP3Headers removes a leading ID3v2 tag and a leading Xing/Info/VBRI
// frame from data. Both describe the segment as a whole and are wrong once the
// segment is appended to another. If data does not start with a recognisable
// frame after the tag, only the tag is removed.
func StripMP3Headers(data []byte) []byte {
	data = data[id3v2Len(data):]
	h, ok := parseMP3Header(data)
	if !ok {
		return data
	}
	if isInfoFrame(data, h) {
		return data[h.frameLen:]
	}
	return data
}

// MP3Duration sums the duration of every audio frame in data. Info frames and
// garbage between frames are skipped.
func MP3Duration(data []byte) time.Duration {
	data = data[id3v2Len(data):]
	var total time.Duration
	first := true
	for i := 0; i+4 <= len(data); {
		h, ok := parseMP3Header(data[i:])
		if !ok || i+h.frameLen > len(data) {
			i++
			continue
		}
		if !(first && isInfoFrame(data[i:], h)) {
			total += time.Duration(h.samples) * time.Second / time.Duration(h.sampleRate)
		}
		first = false
		i += h.frameLen
	}
	return total
}
