package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hearsay-ai/hearsay/pkg/audio/pcm"
	"github.com/hearsay-ai/hearsay/pkg/audio/resample"
	"github.com/hearsay-ai/hearsay/pkg/audio/wav"
	"github.com/hearsay-ai/hearsay/pkg/diarize"
	"github.com/hearsay-ai/hearsay/pkg/pitch"
	"github.com/hearsay-ai/hearsay/pkg/segbuf"
	"github.com/hearsay-ai/hearsay/pkg/session"
)

// uploadSpan locates one source segment on the concatenated upload
// timeline, in milliseconds from the start of the batch audio.
type uploadSpan struct {
	seg     segbuf.Segment
	startMS int64
	endMS   int64
}

// resolved is the identity decided for one diarization label.
type resolved struct {
	identity   session.Identity
	confidence float64
	confirmed  bool
}

// processBatch runs the full pipeline for one batch and returns the
// number of resolved speakers and utterances.
func (e *Engine) processBatch(ctx context.Context, batchID string, segs []segbuf.Segment) (speakers, utterances int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	slices.SortStableFunc(segs, func(a, b segbuf.Segment) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	anchor := segs[0].Timestamp

	audio, spans, err := e.assembleUpload(segs)
	if err != nil {
		return 0, 0, fmt.Errorf("assemble batch audio: %w", err)
	}
	wavData, err := wav.Marshal(pcm.Mono(e.params.UploadRate), audio)
	if err != nil {
		return 0, 0, fmt.Errorf("encode batch wav: %w", err)
	}
	e.archiveBatch(ctx, batchID, wavData)

	utts, err := e.provider.Diarize(ctx, diarize.Request{
		Audio:            wavData,
		SampleRate:       e.params.UploadRate,
		ExpectedSpeakers: e.params.ExpectedSpeakers,
		Language:         e.params.Language,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("diarize: %w", err)
	}
	if len(utts) == 0 {
		e.log.Info("batch produced no utterances", "batch", batchID)
		return 0, 0, nil
	}

	byLabel := e.resolveSpeakers(ctx, batchID, utts, spans)
	e.applyAssignments(anchor, utts, byLabel)
	return len(byLabel), len(utts), nil
}

// assembleUpload resamples every segment to the upload rate and
// concatenates them in timestamp order, recording where each segment
// lands on the upload timeline so utterance offsets map back to source
// segments.
func (e *Engine) assembleUpload(segs []segbuf.Segment) ([]float64, []uploadSpan, error) {
	rate := e.params.UploadRate
	var audio []float64
	spans := make([]uploadSpan, 0, len(segs))
	for _, seg := range segs {
		samples, err := resample.To(pcm.BytesToFloat64(seg.Audio), seg.SampleRate, rate)
		if err != nil {
			return nil, nil, fmt.Errorf("segment at %s: %w", seg.Timestamp.Format(time.RFC3339), err)
		}
		start := uploadMS(len(audio), rate)
		audio = append(audio, samples...)
		spans = append(spans, uploadSpan{seg: seg, startMS: start, endMS: uploadMS(len(audio), rate)})
	}
	return audio, spans, nil
}

// uploadMS converts a sample offset at the upload rate to milliseconds.
func uploadMS(samples, rate int) int64 {
	return int64(samples) * 1000 / int64(rate)
}

// archiveBatch persists the upload WAV when an archive is configured.
// Archive failures are logged and never fail the batch.
func (e *Engine) archiveBatch(ctx context.Context, batchID string, wavData []byte) {
	if e.archive == nil {
		return
	}
	path := fmt.Sprintf("sessions/%s/batches/%s.wav", e.sessionID, batchID)
	w, err := e.archive.Write(ctx, path)
	if err != nil {
		e.log.Warn("archive batch", "path", path, "error", err)
		return
	}
	_, werr := w.Write(wavData)
	if cerr := w.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		e.log.Warn("archive batch", "path", path, "error", werr)
		return
	}
	e.log.Debug("batch archived", "path", path, "bytes", len(wavData))
}

// resolveSpeakers decides one identity per diarization label and records
// it in the session registry. The longest utterance of each label picks
// the segment to fingerprint, since more speech gives the pitch analysis
// more windows to work with.
func (e *Engine) resolveSpeakers(ctx context.Context, batchID string, utts []diarize.Utterance, spans []uploadSpan) map[string]resolved {
	longest := make(map[string]diarize.Utterance)
	var labels []string
	for _, u := range utts {
		cur, seen := longest[u.Speaker]
		if !seen {
			labels = append(labels, u.Speaker)
		}
		if !seen || u.DurationMS() > cur.DurationMS() {
			longest[u.Speaker] = u
		}
	}

	out := make(map[string]resolved, len(labels))
	for _, label := range labels {
		u := longest[label]
		span := closestSpan(spans, u.StartMS)
		r := e.resolveLabel(ctx, batchID, label, span.seg, u)
		e.registry.RecordBatchMapping(batchID, label, r.identity)
		e.registry.RegisterGlobalIdentity(r.identity)
		out[label] = r
	}
	return out
}

// resolveLabel fingerprints one label's voice and maps it to a profile.
// Every failure path degrades to a session-local fallback name so one
// problematic speaker never takes down the batch.
func (e *Engine) resolveLabel(ctx context.Context, batchID, label string, seg segbuf.Segment, u diarize.Utterance) resolved {
	res, err := e.fingerprint(seg)
	if err != nil {
		name := e.registry.NextIdentity()
		e.log.Warn("pitch analysis failed, using fallback speaker",
			"batch", batchID, "label", label, "speaker", name, "error", err)
		return resolved{identity: session.Identity{ID: name, DisplayName: name}}
	}

	prof, score, err := e.profiles.FindBySimilarity(ctx, *res, e.params.SimilarityPercent)
	if err != nil {
		e.log.Warn("profile lookup failed", "batch", batchID, "label", label, "error", err)
	}

	var conf float64
	if prof != nil {
		conf = score / 100
		if err := e.profiles.UpdatePitch(ctx, prof.ID, *res); err != nil {
			e.log.Warn("profile pitch update failed", "profile", prof.ID, "error", err)
		}
		e.log.Debug("speaker recognized", "batch", batchID, "label", label,
			"profile", prof.ID, "name", prof.Name, "score", score)
	} else {
		prof, err = e.profiles.CreateAuto(ctx, pitch.NewProfile(*res), batchID, sampleText(u.Text))
		if err != nil {
			name := e.registry.NextIdentity()
			e.log.Warn("auto profile creation failed, using fallback speaker",
				"batch", batchID, "label", label, "speaker", name, "error", err)
			return resolved{
				identity:   session.Identity{ID: name, DisplayName: name, Pitch: res},
				confidence: res.Confidence,
			}
		}
		conf = res.Confidence
		e.log.Info("new speaker", "batch", batchID, "label", label,
			"profile", prof.ID, "name", prof.Name)
	}

	return resolved{
		identity: session.Identity{
			ID:          prof.ID,
			DisplayName: prof.Name,
			Color:       prof.Color,
			ProfileID:   prof.ID,
			Pitch:       res,
		},
		confidence: conf,
		confirmed:  prof.Confirmed,
	}
}

// fingerprint analyzes one segment's audio at its native rate. The
// analyzer is kept until a segment arrives at a different rate.
func (e *Engine) fingerprint(seg segbuf.Segment) (*pitch.Result, error) {
	if e.analyzer == nil || e.analyzer.Config().SampleRate != seg.SampleRate {
		e.analyzer = pitch.New(pitch.DefaultConfig(seg.SampleRate))
	}
	return e.analyzer.Analyze(pcm.BytesToFloat64(seg.Audio))
}

// applyAssignments matches every utterance to a transcript entry and
// writes the resolved speaker onto it. Unmatched utterances are skipped.
func (e *Engine) applyAssignments(anchor time.Time, utts []diarize.Utterance, byLabel map[string]resolved) {
	entries := e.transcript.Entries()
	anchorMS := anchor.UnixMilli()
	for _, u := range utts {
		r, ok := byLabel[u.Speaker]
		if !ok {
			continue
		}
		at := anchorMS + u.StartMS
		entry, ok := e.matcher.Match(entries, u.Text, at)
		if !ok {
			e.log.Debug("no transcript entry for utterance",
				"label", u.Speaker, "at", at, "text", sampleText(u.Text))
			continue
		}
		a := session.ResolvedAssignment(r.identity.ID, r.identity.DisplayName, r.confidence, r.confirmed)
		if err := e.transcript.UpdateSpeaker(entry.Timestamp.UnixMilli(), a); err != nil {
			e.log.Warn("transcript update failed",
				"timestamp", entry.Timestamp.UnixMilli(), "error", err)
		}
	}
}

// closestSpan returns the span nearest to an upload-timeline offset,
// preferring containment.
func closestSpan(spans []uploadSpan, ms int64) uploadSpan {
	best := spans[0]
	bestDist := spanDist(best, ms)
	for _, s := range spans[1:] {
		if d := spanDist(s, ms); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

func spanDist(s uploadSpan, ms int64) int64 {
	switch {
	case ms < s.startMS:
		return s.startMS - ms
	case ms > s.endMS:
		return ms - s.endMS
	default:
		return 0
	}
}

// sampleText trims a transcript snippet for profile storage and logs.
func sampleText(s string) string {
	const max = 120
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
