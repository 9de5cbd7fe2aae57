// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram) and turns one
// settled run of agent audio into text. It is only consulted when the remote
// platform streams audio without its own transcript.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// Config carries recognition hints for a single transcription request.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string

	// Keywords is a list of vocabulary hints (product names, agent names) that
	// increase recognition probability for uncommon words.
	Keywords []string
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe converts seg into text. PCM16 and WAV segments must be
	// supported; MP3 support is provider-specific.
	//
	// An empty Transcript.Text with a nil error means the audio contained no
	// recognisable speech.
	Transcribe(ctx context.Context, seg audio.Segment, cfg Config) (types.Transcript, error)
}
