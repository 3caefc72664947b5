package pitch

import "fmt"

// InsufficientDataError is returned when a sample holds fewer amplitude
// samples than one analysis window.
type InsufficientDataError struct {
	Samples int // samples provided
	Min     int // minimum required (one window)
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("pitch: insufficient data: %d samples, need at least %d", e.Samples, e.Min)
}

// InsufficientSignalError is returned when too few windows produce a pitch
// estimate inside the voice band, typically on silence or noise.
type InsufficientSignalError struct {
	Estimates int // in-band estimates found
	Min       int // minimum required
}

func (e *InsufficientSignalError) Error() string {
	return fmt.Sprintf("pitch: insufficient signal: %d voiced estimates, need at least %d", e.Estimates, e.Min)
}
