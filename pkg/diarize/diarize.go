// Package diarize defines the speaker-diarization provider contract and
// two client implementations: an asynchronous upload/poll HTTP client
// and a streaming WebSocket client.
//
// A provider takes one batch of audio and returns utterances attributed
// to batch-local speaker labels ("A", "B", ...). Mapping those labels to
// persistent identities is the engine's job, not the provider's.
package diarize

import "context"

// Utterance is one contiguous speech turn attributed to a batch-local
// speaker label.
type Utterance struct {
	// Speaker is the provider-assigned label, unique only within the
	// batch that produced it.
	Speaker string `json:"speaker"`

	Text string `json:"text"`

	// StartMS and EndMS are offsets from the start of the batch audio.
	StartMS int64 `json:"start"`
	EndMS   int64 `json:"end"`

	Confidence float64 `json:"confidence"`
}

// DurationMS returns the utterance length in milliseconds.
func (u *Utterance) DurationMS() int64 {
	return u.EndMS - u.StartMS
}

// Request is one batch of audio submitted for diarization.
type Request struct {
	// Audio is WAV-wrapped 16-bit PCM.
	Audio []byte

	SampleRate int

	// ExpectedSpeakers hints the speaker count. Zero lets the provider
	// estimate it.
	ExpectedSpeakers int

	// Language is an optional language code, e.g. "en" or "zh".
	Language string
}

// Provider turns batch audio into labeled utterances.
type Provider interface {
	// Name identifies the provider in logs and events.
	Name() string

	// Diarize blocks until the batch is fully processed or ctx is done.
	Diarize(ctx context.Context, req Request) ([]Utterance, error)
}
