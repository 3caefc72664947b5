package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/googleapis/gax-go/v2"
	"github.com/kaptinlin/jsonrepair"
)

const (
	// DefaultBaseURL is the default diarization API endpoint.
	DefaultBaseURL = "https://api.assemblyai.com"

	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxPolls bounds how often a job is polled before giving up.
	DefaultMaxPolls = 60
)

// job statuses reported by the transcript endpoint.
const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusError      = "error"
)

// HTTPProvider drives the asynchronous diarization flow: upload the
// audio and create a transcript job, then poll until it completes.
type HTTPProvider struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	maxPolls int
	backoff  gax.Backoff
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithBaseURL points the provider at a different API endpoint.
func WithBaseURL(url string) HTTPOption {
	return func(p *HTTPProvider) { p.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = client }
}

// WithMaxPolls sets the poll budget for one job.
func WithMaxPolls(n int) HTTPOption {
	return func(p *HTTPProvider) { p.maxPolls = n }
}

// WithPollBackoff sets the initial and maximum pause between polls.
func WithPollBackoff(initial, max time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		p.backoff.Initial = initial
		p.backoff.Max = max
	}
}

// NewHTTP creates a provider that talks to an upload/poll diarization
// API.
func NewHTTP(apiKey string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		maxPolls: DefaultMaxPolls,
		backoff: gax.Backoff{
			Initial:    time.Second,
			Max:        5 * time.Second,
			Multiplier: 1.5,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: DefaultTimeout}
	}
	return p
}

func (p *HTTPProvider) Name() string { return "http" }

// Diarize uploads the batch audio, creates a transcript job with
// speaker labels enabled, and polls it to completion.
func (p *HTTPProvider) Diarize(ctx context.Context, req Request) ([]Utterance, error) {
	audioURL, err := p.upload(ctx, req.Audio)
	if err != nil {
		return nil, err
	}

	job, err := p.createTranscript(ctx, audioURL, req)
	if err != nil {
		return nil, err
	}

	bo := p.backoff
	for attempt := 1; attempt <= p.maxPolls; attempt++ {
		tr, err := p.getTranscript(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		switch tr.Status {
		case statusCompleted:
			return tr.Utterances, nil
		case statusError:
			return nil, &RequestError{Op: "transcribe", Msg: tr.Error}
		case statusQueued, statusProcessing:
			// keep polling
		default:
			return nil, &MalformedError{Op: "poll", Err: fmt.Errorf("unknown status %q", tr.Status)}
		}
		if attempt == p.maxPolls {
			break
		}
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			return nil, err
		}
	}
	return nil, &TimeoutError{JobID: job.ID, Attempts: p.maxPolls}
}

// upload pushes raw audio bytes and returns the provider-hosted URL.
func (p *HTTPProvider) upload(ctx context.Context, audio []byte) (string, error) {
	body, err := p.do(ctx, "upload", http.MethodPost, "/v2/upload", "application/octet-stream", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &MalformedError{Op: "upload", Err: err}
	}
	if out.UploadURL == "" {
		return "", &MalformedError{Op: "upload", Err: fmt.Errorf("missing upload_url")}
	}
	return out.UploadURL, nil
}

type transcriptResult struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Error      string      `json:"error,omitempty"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

// createTranscript starts an asynchronous diarization job.
func (p *HTTPProvider) createTranscript(ctx context.Context, audioURL string, req Request) (*transcriptResult, error) {
	params := map[string]any{
		"audio_url":      audioURL,
		"speaker_labels": true,
	}
	if req.ExpectedSpeakers > 0 {
		params["speakers_expected"] = req.ExpectedSpeakers
	}
	if req.Language != "" {
		params["language_code"] = req.Language
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, &RequestError{Op: "create", Err: err}
	}

	body, err := p.do(ctx, "create", http.MethodPost, "/v2/transcript", "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	job, err := decodeTranscript("create", body)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, &MalformedError{Op: "create", Err: fmt.Errorf("missing job id")}
	}
	return job, nil
}

// getTranscript fetches the current job state.
func (p *HTTPProvider) getTranscript(ctx context.Context, id string) (*transcriptResult, error) {
	body, err := p.do(ctx, "poll", http.MethodGet, "/v2/transcript/"+id, "", nil)
	if err != nil {
		return nil, err
	}
	return decodeTranscript("poll", body)
}

// do performs one HTTP exchange and returns the response body.
func (p *HTTPProvider) do(ctx context.Context, op, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", p.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{Op: op, Status: resp.StatusCode, Msg: errorText(data)}
	}
	return data, nil
}

// errorText extracts the provider's error message from a failed
// response, falling back to the raw body.
func errorText(body []byte) string {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err == nil && out.Error != "" {
		return out.Error
	}
	s := string(bytes.TrimSpace(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// transcriptSchema resolves the JSON Schema the transcript endpoint
// must satisfy, derived from transcriptResult.
var transcriptSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	s, err := jsonschema.For[transcriptResult](nil)
	if err != nil {
		return nil, err
	}
	return s.Resolve(nil)
})

// decodeTranscript decodes a transcript response, repairing malformed
// JSON once and validating the decoded shape against the schema.
func decodeTranscript(op string, data []byte) (*transcriptResult, error) {
	fixed := data
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		if _, ok := err.(*json.SyntaxError); !ok {
			return nil, &MalformedError{Op: op, Err: err}
		}
		repaired, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return nil, &MalformedError{Op: op, Err: err}
		}
		fixed = []byte(repaired)
		if err := json.Unmarshal(fixed, &raw); err != nil {
			return nil, &MalformedError{Op: op, Err: err}
		}
	}

	if schema, err := transcriptSchema(); err == nil {
		if err := schema.Validate(raw); err != nil {
			return nil, &MalformedError{Op: op, Err: err}
		}
	}

	var out transcriptResult
	if err := json.Unmarshal(fixed, &out); err != nil {
		return nil, &MalformedError{Op: op, Err: err}
	}
	return &out, nil
}
