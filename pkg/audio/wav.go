package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	wavHeaderSize    = 44
	wavFmtChunkSize  = 16
	wavFormatPCM     = 1
	wavBitsPerSample = 16
)

// ErrMalformedWAV is returned when a buffer is not a parseable RIFF/WAVE file.
var ErrMalformedWAV = errors.New("audio: malformed wav")

// WAVInfo describes the parsed header of a WAV buffer.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// DataOffset is the byte offset of the first sample of the data chunk.
	DataOffset int

	// DataSize is the number of payload bytes available from DataOffset. It is
	// clamped to the buffer length when the header over-declares.
	DataSize int
}

// ByteRate returns the number of payload bytes per second of audio.
func (w WAVInfo) ByteRate() int {
	return w.SampleRate * w.Channels * w.BitsPerSample / 8
}

// Duration returns the playback length described by the header.
func (w WAVInfo) Duration() time.Duration {
	br := w.ByteRate()
	if br <= 0 {
		return 0
	}
	return time.Duration(w.DataSize) * time.Second / time.Duration(br)
}

// ParseWAV walks the RIFF chunks of data until it finds the fmt and data
// chunks. Unknown chunks (LIST, fact, ...) are skipped.
func ParseWAV(data []byte) (WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrMalformedWAV)
	}

	var info WAVInfo
	haveFmt := false
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < wavFmtChunkSize || body+size > len(data) {
				return WAVInfo{}, fmt.Errorf("%w: fmt chunk too small", ErrMalformedWAV)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformedWAV)
			}
			info.DataOffset = body
			info.DataSize = min(size, len(data)-body)
			return info, nil
		}

		// Chunks are word aligned.
		off = body + size + size%2
	}
	return WAVInfo{}, fmt.Errorf("%w: data chunk not found", ErrMalformedWAV)
}

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	dataSize := len(pcm)
	byteRate := sampleRate * channels * wavBitsPerSample / 8
	blockAlign := channels * wavBitsPerSample / 8

	wav := make([]byte, wavHeaderSize+dataSize)

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], wavFmtChunkSize)
	binary.LittleEndian.PutUint16(wav[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(wav[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], wavBitsPerSample)

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataSize))
	copy(wav[wavHeaderSize:], pcm)

	return wav
}

// patchWAVSizes rewrites the RIFF and data chunk sizes of buf in place so
// that they account for every byte after the header. info must describe buf.
func patchWAVSizes(buf []byte, info WAVInfo) {
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))
	binary.LittleEndian.PutUint32(buf[info.DataOffset-4:info.DataOffset], uint32(len(buf)-info.DataOffset))
}
