package diarize

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearsay-ai/hearsay/pkg/audio/pcm"
	"github.com/hearsay-ai/hearsay/pkg/audio/wav"
)

// realtime message types.
const (
	msgTypeStart = "start"
	msgTypeStop  = "stop"
	msgTypeTurn  = "turn"
	msgTypeDone  = "done"
	msgTypeError = "error"
)

// realtimeMessage is the JSON envelope on the streaming connection.
type realtimeMessage struct {
	Type       string  `json:"type"`
	Speaker    string  `json:"speaker,omitempty"`
	Text       string  `json:"text,omitempty"`
	StartMS    int64   `json:"start,omitempty"`
	EndMS      int64   `json:"end,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type messageOrError struct {
	msg *realtimeMessage
	err error
}

// RealtimeProvider streams batch audio over a WebSocket to a diarizer
// that emits speaker turns as it goes. The batch result is still
// collected synchronously: Diarize returns once the server sends its
// final message.
type RealtimeProvider struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
	chunk  time.Duration
}

// RealtimeOption configures a RealtimeProvider.
type RealtimeOption func(*RealtimeProvider)

// WithDialer sets a custom WebSocket dialer.
func WithDialer(d *websocket.Dialer) RealtimeOption {
	return func(p *RealtimeProvider) { p.dialer = d }
}

// WithChunkDuration sets how much audio each binary frame carries.
func WithChunkDuration(d time.Duration) RealtimeOption {
	return func(p *RealtimeProvider) { p.chunk = d }
}

// NewRealtime creates a streaming provider for the given WebSocket URL.
func NewRealtime(url, apiKey string, opts ...RealtimeOption) *RealtimeProvider {
	p := &RealtimeProvider{
		url:    url,
		apiKey: apiKey,
		chunk:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dialer == nil {
		p.dialer = &websocket.Dialer{HandshakeTimeout: DefaultTimeout}
	}
	return p
}

func (p *RealtimeProvider) Name() string { return "realtime" }

// Diarize unwraps the WAV batch, streams its PCM in fixed-duration
// frames, and collects turn messages until the server signals done.
func (p *RealtimeProvider) Diarize(ctx context.Context, req Request) ([]Utterance, error) {
	samples, format, err := wav.Unmarshal(req.Audio)
	if err != nil {
		return nil, &RequestError{Op: "stream", Err: err}
	}
	audio := pcm.Float64ToBytes(samples)
	mono := pcm.Mono(format.SampleRate)

	headers := http.Header{}
	if p.apiKey != "" {
		headers.Set("Authorization", p.apiKey)
	}
	conn, resp, err := p.dialer.DialContext(ctx, p.url, headers)
	if err != nil {
		if resp != nil {
			return nil, &RequestError{Op: "dial", Status: resp.StatusCode, Err: err}
		}
		return nil, &RequestError{Op: "dial", Err: err}
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	msgCh := make(chan messageOrError, 100)
	go readLoop(conn, done, msgCh)

	writeErrCh := make(chan error, 1)
	go func() {
		writeErrCh <- p.send(conn, mono, audio, req)
	}()

	var utts []Utterance
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m, ok := <-msgCh:
			if !ok {
				return nil, &RequestError{Op: "stream", Err: io.ErrUnexpectedEOF}
			}
			if m.err != nil {
				// A failed write usually surfaces as a read error; prefer
				// the root cause when the writer has one.
				select {
				case werr := <-writeErrCh:
					if werr != nil {
						return nil, &RequestError{Op: "stream", Err: werr}
					}
				default:
				}
				return nil, &RequestError{Op: "stream", Err: m.err}
			}
			switch m.msg.Type {
			case msgTypeTurn:
				utts = append(utts, Utterance{
					Speaker:    m.msg.Speaker,
					Text:       m.msg.Text,
					StartMS:    m.msg.StartMS,
					EndMS:      m.msg.EndMS,
					Confidence: m.msg.Confidence,
				})
			case msgTypeDone:
				return utts, nil
			case msgTypeError:
				return nil, &RequestError{Op: "stream", Msg: m.msg.Error}
			}
		}
	}
}

// send writes the start message, the audio frames, and the stop marker.
func (p *RealtimeProvider) send(conn *websocket.Conn, format pcm.Format, audio []byte, req Request) error {
	start := map[string]any{
		"type":        msgTypeStart,
		"sample_rate": format.SampleRate,
	}
	if req.ExpectedSpeakers > 0 {
		start["expected_speakers"] = req.ExpectedSpeakers
	}
	if req.Language != "" {
		start["language"] = req.Language
	}
	if err := conn.WriteJSON(start); err != nil {
		return err
	}

	chunk := int(format.BytesInDuration(p.chunk))
	if chunk < format.BlockAlign() {
		chunk = format.BlockAlign()
	}
	for off := 0; off < len(audio); off += chunk {
		end := min(off+chunk, len(audio))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio[off:end]); err != nil {
			return err
		}
	}
	return conn.WriteJSON(map[string]any{"type": msgTypeStop})
}

// readLoop decodes server messages until the connection drops or the
// caller is done listening.
func readLoop(conn *websocket.Conn, done <-chan struct{}, ch chan<- messageOrError) {
	defer close(ch)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			case ch <- messageOrError{err: err}:
			}
			return
		}
		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			select {
			case <-done:
				return
			case ch <- messageOrError{err: err}:
			}
			continue
		}
		select {
		case <-done:
			return
		case ch <- messageOrError{msg: &msg}:
		}
	}
}
