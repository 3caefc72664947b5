package diarize

import "fmt"

// RequestError reports a failed exchange with the provider: transport
// errors, non-2xx responses, or a job the provider itself marked failed.
type RequestError struct {
	// Op names the step that failed: "upload", "create", "poll",
	// "transcribe", "dial" or "stream".
	Op string

	// Status is the HTTP status code, zero for transport errors.
	Status int

	// Msg is the provider's error text, when it sent one.
	Msg string

	Err error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status != 0 && e.Msg != "":
		return fmt.Sprintf("diarize: %s failed: status %d: %s", e.Op, e.Status, e.Msg)
	case e.Status != 0:
		return fmt.Sprintf("diarize: %s failed: status %d", e.Op, e.Status)
	case e.Msg != "":
		return fmt.Sprintf("diarize: %s failed: %s", e.Op, e.Msg)
	default:
		return fmt.Sprintf("diarize: %s failed: %v", e.Op, e.Err)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// TimeoutError reports a job that never reached a terminal status
// within the poll budget.
type TimeoutError struct {
	JobID    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("diarize: job %s still running after %d polls", e.JobID, e.Attempts)
}

// MalformedError reports a response body that could not be decoded, or
// decoded into a shape the transcript schema rejects.
type MalformedError struct {
	Op  string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("diarize: malformed %s response: %v", e.Op, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }
