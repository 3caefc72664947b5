// Package engine turns buffered speech segments into resolved speaker
// identities on a live transcript.
//
// Hosts feed two things while a meeting runs: transcript entries (owned
// by the host, seen through session.Transcript) and short PCM segments of
// the speech behind those entries (AddSegment). The engine batches the
// segments, sends each batch to a diarization provider, fingerprints the
// voices, and writes resolved speaker assignments back onto the
// transcript.
//
// # Batch pipeline
//
// When the oldest buffered segment ages past the batch window:
//
//  1. Segments are resampled to the upload rate and concatenated in
//     timestamp order, then WAV-wrapped (optionally archived).
//  2. The provider returns utterances with batch-local labels.
//  3. Per label, the longest utterance picks the nearest segment to
//     fingerprint; the fingerprint is matched against stored profiles and
//     either reuses one or auto-creates "Speaker N (Unnamed)". A failed
//     analysis falls back to a session-local "speaker_<N>" name without
//     aborting the batch.
//  4. Every utterance is matched to a transcript entry by time proximity
//     and text similarity, and the entry's speaker assignment updated.
//
// Batches are strictly serialized: one runs at a time, and a batch that
// becomes due mid-flight is dropped or queued per the overflow policy.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearsay-ai/hearsay/pkg/diarize"
	"github.com/hearsay-ai/hearsay/pkg/match"
	"github.com/hearsay-ai/hearsay/pkg/pitch"
	"github.com/hearsay-ai/hearsay/pkg/profile"
	"github.com/hearsay-ai/hearsay/pkg/segbuf"
	"github.com/hearsay-ai/hearsay/pkg/session"
	"github.com/hearsay-ai/hearsay/pkg/storage"
)

// Config wires an Engine. Provider, Profiles and Transcript are required.
type Config struct {
	Provider   diarize.Provider
	Profiles   profile.Store
	Transcript session.Transcript

	// Registry tracks session speaker identities. A fresh one is created
	// when nil.
	Registry *session.Registry

	// Archive, when set, persists each batch WAV under
	// sessions/<session>/batches/<batch>.wav.
	Archive storage.FileStore

	// SessionID names this meeting in archive paths and logs. Defaults
	// to a random UUID.
	SessionID string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	Params Params
}

// Engine batches speech segments and resolves their speakers. Create
// with New, feed with AddSegment, consume Events, Close when the meeting
// ends.
type Engine struct {
	provider   diarize.Provider
	profiles   profile.Store
	transcript session.Transcript
	registry   *session.Registry
	archive    storage.FileStore
	sessionID  string
	log        *slog.Logger
	params     Params

	buf     *segbuf.Buffer
	matcher *match.Matcher

	// analyzer is recreated when the segment sample rate changes. Only
	// the batch worker touches it, so no lock.
	analyzer *pitch.Analyzer

	mu         sync.Mutex
	processing bool
	pending    []segbuf.Segment

	events    chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates and starts an Engine. The returned engine owns a
// background ticker that fires due batches; stop it with Close.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, errors.New("engine: nil provider")
	}
	if cfg.Profiles == nil {
		return nil, errors.New("engine: nil profile store")
	}
	if cfg.Transcript == nil {
		return nil, errors.New("engine: nil transcript")
	}
	params := cfg.Params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	registry := cfg.Registry
	if registry == nil {
		registry = session.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		provider:   cfg.Provider,
		profiles:   cfg.Profiles,
		transcript: cfg.Transcript,
		registry:   registry,
		archive:    cfg.Archive,
		sessionID:  sessionID,
		log:        logger.With("session", sessionID),
		params:     params,
		matcher:    match.New(match.Config{Window: params.MatchWindow.Duration()}),
		events:     make(chan Event, 16),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.buf = segbuf.New(segbuf.Config{
		BatchWindow: params.BatchWindow.Duration(),
		Flush:       e.enqueue,
	})

	e.wg.Add(1)
	go e.tickLoop()
	return e, nil
}

// AddSegment buffers one captured speech segment. audio is PCM16 mono
// little-endian at sampleRate; timestamp is the absolute capture time of
// the segment start and entryID an optional host correlation id. The
// call is cheap unless it trips a flush, in which case batch processing
// starts in the background.
func (e *Engine) AddSegment(audio []byte, sampleRate int, timestamp time.Time, entryID string) {
	if e.ctx.Err() != nil {
		return
	}
	e.buf.Add(segbuf.Segment{
		Audio:      audio,
		SampleRate: sampleRate,
		Timestamp:  timestamp,
		EntryID:    entryID,
	})
}

// Flush forces whatever is buffered into a batch immediately, regardless
// of age. Call it at session end so the tail of a meeting is not lost to
// the batch window. Processing still happens in the background; wait on
// Events for the result.
func (e *Engine) Flush() {
	if e.ctx.Err() != nil {
		return
	}
	e.buf.ForceFlush()
}

// Events delivers batch lifecycle notifications. The channel is closed
// by Close after all in-flight work stops.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Registry exposes the session speaker registry for host inspection.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// SessionID returns the meeting id used in archive paths and logs.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Buffered returns the number of segments awaiting the next batch.
func (e *Engine) Buffered() int {
	return e.buf.Len()
}

// Close stops the engine: the flush ticker exits, an in-flight batch is
// canceled, and the event channel closes once all work has stopped.
// Buffered segments that never flushed are discarded; call Flush first to
// process them. Close is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		close(e.events)
	})
	return nil
}

// tickLoop drains the segment buffer on a timer so an idle session still
// flushes without new AddSegment calls.
func (e *Engine) tickLoop() {
	defer e.wg.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.buf.FlushIfDue()
		}
	}
}

// enqueue receives each flushed batch. If no batch is in flight it
// starts the worker; otherwise the overflow policy decides whether the
// batch is dropped or parked as the pending batch.
func (e *Engine) enqueue(segs []segbuf.Segment) {
	e.mu.Lock()
	if e.processing {
		queued := e.params.Overflow == OverflowQueueLatest
		replaced := false
		if queued {
			replaced = e.pending != nil
			e.pending = segs
		}
		e.mu.Unlock()

		switch {
		case replaced:
			e.log.Warn("batch queued, replacing older pending batch", "segments", len(segs))
		case queued:
			e.log.Info("batch queued behind in-flight batch", "segments", len(segs))
		default:
			e.log.Warn("batch dropped, one already in flight", "segments", len(segs))
		}
		return
	}
	e.processing = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.worker(segs)
}

// worker runs batches until none is pending. Exactly one worker exists
// at a time, guarded by the processing flag. The flag clears before the
// event is emitted so a consumer reacting to an event can enqueue the
// next batch without hitting the overflow policy.
func (e *Engine) worker(segs []segbuf.Segment) {
	defer e.wg.Done()
	for segs != nil {
		batchID := uuid.NewString()
		start := time.Now()

		speakers, utterances, err := e.processBatch(e.ctx, batchID, segs)
		e.registry.DropBatch(batchID)

		e.mu.Lock()
		next := e.pending
		e.pending = nil
		if next == nil {
			e.processing = false
		}
		e.mu.Unlock()

		if err != nil {
			e.log.Error("batch failed", "batch", batchID, "segments", len(segs), "error", err)
			e.emit(BatchFailed{BatchID: batchID, Err: err})
		} else {
			e.log.Info("batch completed", "batch", batchID, "segments", len(segs),
				"speakers", speakers, "utterances", utterances, "took", time.Since(start))
			e.emit(BatchCompleted{BatchID: batchID, SpeakerCount: speakers, Utterances: utterances})
		}
		segs = next
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}
