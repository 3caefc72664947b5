// Package session holds per-meeting speaker bookkeeping.
//
// A meeting session accumulates transcript entries and diarization
// batches. Provider speaker labels ("A", "B") are only meaningful inside
// one batch, so the Registry keeps a fresh label map per batch on top of
// the session-wide identities that give a speaker one stable name and
// color for the whole meeting.
//
// The transcript itself is owned by the host application; the engine sees
// it through the Transcript interface and mutates nothing but the speaker
// assignment of an entry.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/hearsay-ai/hearsay/pkg/jsontime"
)

// Source tells where an entry's audio came from.
type Source string

const (
	// SourceMic is the local microphone. Mic entries belong to the host
	// user and are never candidates for diarization matching.
	SourceMic Source = "mic"

	// SourceSystem is captured system/loopback audio (the other meeting
	// participants).
	SourceSystem Source = "system"
)

// AssignState is the progress of an entry's speaker assignment.
type AssignState int

const (
	// StateUnassigned means no speaker has been attached yet.
	StateUnassigned AssignState = iota

	// StatePending means a batch-local diarization label is attached but
	// not resolved to an identity.
	StatePending

	// StateResolved means a stable speaker identity is attached.
	StateResolved
)

func (s AssignState) String() string {
	switch s {
	case StateUnassigned:
		return "unassigned"
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("AssignState(%d)", int(s))
	}
}

// MarshalJSON implements json.Marshaler.
func (s AssignState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *AssignState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "unassigned":
		*s = StateUnassigned
	case "pending":
		*s = StatePending
	case "resolved":
		*s = StateResolved
	default:
		return fmt.Errorf("session: unknown assign state %q", v)
	}
	return nil
}

// Assignment is the tagged speaker attachment of a transcript entry. The
// zero value is StateUnassigned.
type Assignment struct {
	State      AssignState `json:"state"`
	Label      string      `json:"speaker_label,omitempty"`
	SpeakerID  string      `json:"speaker_id,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Confirmed  bool        `json:"confirmed,omitempty"`
}

// PendingAssignment attaches a batch-local label without an identity.
func PendingAssignment(label string) Assignment {
	return Assignment{State: StatePending, Label: label}
}

// ResolvedAssignment attaches a resolved speaker identity.
func ResolvedAssignment(speakerID, label string, confidence float64, confirmed bool) Assignment {
	return Assignment{
		State:      StateResolved,
		Label:      label,
		SpeakerID:  speakerID,
		Confidence: confidence,
		Confirmed:  confirmed,
	}
}

// Entry is one transcript line as the engine sees it. Timestamps are
// epoch milliseconds on the wire and identify the entry to the host.
type Entry struct {
	Timestamp jsontime.Milli `json:"timestamp"`
	Text      string         `json:"text"`
	Source    Source         `json:"source"`
	Speaker   Assignment     `json:"speaker"`
}

// SpeakerConfirmed reports whether the entry carries a confirmed speaker
// identity. Confirmed entries are excluded from utterance matching.
func (e *Entry) SpeakerConfirmed() bool {
	return e.Speaker.State == StateResolved && e.Speaker.Confirmed
}
