package engine

// Event is a batch lifecycle notification emitted on Events().
type Event interface {
	event()
}

// BatchCompleted reports a batch that ran to completion.
type BatchCompleted struct {
	BatchID string

	// SpeakerCount is the number of distinct diarization labels resolved
	// in the batch.
	SpeakerCount int

	// Utterances is the number of utterances the provider returned.
	Utterances int
}

func (BatchCompleted) event() {}

// BatchFailed reports a batch aborted by a pipeline error. Per-speaker
// pitch failures do not produce this; they fall back to session-local
// speaker names and the batch completes.
type BatchFailed struct {
	BatchID string
	Err     error
}

func (BatchFailed) event() {}
