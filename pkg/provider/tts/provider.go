// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or OpenAI)
// and turns one caller utterance into one [audio.Segment]. Voice transports
// stream that segment to the remote agent; the phone bridge and the session
// recording consume it as a whole.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/voicecheck/pkg/audio"
	"github.com/MrWong99/voicecheck/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may
// synthesise in parallel.
type Provider interface {
	// Synthesize renders text with voice and returns the complete audio
	// segment. The segment's Encoding, SampleRate and Channels describe the
	// returned bytes; callers convert as needed.
	//
	// Returns an error if synthesis fails, the voice is unknown, or ctx is
	// cancelled before the audio is complete.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (audio.Segment, error)

	// ListVoices returns all voice profiles available from this provider.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
