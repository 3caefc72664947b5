package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearsay-ai/hearsay/pkg/audio/pcm"
	"github.com/hearsay-ai/hearsay/pkg/audio/wav"
	"github.com/hearsay-ai/hearsay/pkg/diarize"
	"github.com/hearsay-ai/hearsay/pkg/engine"
	"github.com/hearsay-ai/hearsay/pkg/jsontime"
	"github.com/hearsay-ai/hearsay/pkg/profile"
	"github.com/hearsay-ai/hearsay/pkg/session"
	"github.com/hearsay-ai/hearsay/pkg/storage"
)

var (
	runParamsFile  string
	runTranscript  string
	runSegment     time.Duration
	runProviderURL string
	runAPIKey      string
	runStorePath   string
	runArchiveDir  string
	runSessionID   string
)

// runReport is the JSON shape of one offline run.
type runReport struct {
	Session    string             `json:"session"`
	Batch      string             `json:"batch"`
	Speakers   []session.Identity `json:"speakers"`
	Utterances int                `json:"utterances"`
	Entries    []session.Entry    `json:"entries,omitempty"`
}

var runBatchCmd = &cobra.Command{
	Use:   "run <file.wav>",
	Short: "Diarize a recording and resolve speakers offline",
	Long: `Process a whole recording as a single diarization batch: slice the
audio into segments, send it to the configured provider, fingerprint
each diarized voice and resolve it against the profile store.

With --transcript, entries are read from a JSONL file (one JSON object
per line: timestamp in epoch milliseconds, text, source) and resolved
speakers are written onto them. The recording is assumed to start at
the earliest transcript entry.

Without a configured store the profiles live in memory for just this
run; set one to recognize the same voices across recordings.

Examples:
  hearsay run meeting.wav --transcript meeting.jsonl
  hearsay run meeting.wav --params tuning.yaml --archive /var/lib/hearsay/batches
  hearsay run meeting.wav --provider-url ws://localhost:8765 --api-key dev`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := loadRunParams()
		if err != nil {
			return err
		}

		provider, err := buildProvider(params.MaxPolls)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		samples, format, err := wav.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		if len(samples) == 0 {
			return fmt.Errorf("%s: no audio samples", args[0])
		}

		transcript := session.NewMemoryTranscript()
		base := time.Now()
		if runTranscript != "" {
			entries, err := loadTranscript(runTranscript)
			if err != nil {
				return err
			}
			for _, e := range entries {
				transcript.Append(e)
			}
			base = earliestTimestamp(entries)
		}

		store, closeStore, err := openRunStore()
		if err != nil {
			return err
		}
		defer closeStore()

		archive, err := openRunArchive()
		if err != nil {
			return err
		}

		eng, err := engine.New(engine.Config{
			Provider:   provider,
			Profiles:   store,
			Transcript: transcript,
			Archive:    archive,
			SessionID:  runSessionID,
			Logger:     runLogger(),
			Params:     params,
		})
		if err != nil {
			return err
		}
		defer eng.Close()

		feedSegments(eng, samples, format.SampleRate, base)
		printVerbose("uploading %d segments (%s of audio) via %s provider",
			eng.Buffered(),
			(time.Duration(len(samples)) * time.Second / time.Duration(format.SampleRate)).Round(time.Second),
			provider.Name())
		eng.Flush()

		ev := <-eng.Events()
		switch ev := ev.(type) {
		case engine.BatchFailed:
			return fmt.Errorf("batch %s: %w", ev.BatchID, ev.Err)
		case engine.BatchCompleted:
			return printRun(eng, transcript, ev)
		default:
			return fmt.Errorf("unexpected engine event %T", ev)
		}
	},
}

// loadRunParams reads tunables from --params and pins the batch window
// far in the future so the whole file flushes as one batch at EOF.
func loadRunParams() (engine.Params, error) {
	params := engine.DefaultParams()
	if runParamsFile != "" {
		var err error
		params, err = engine.LoadParams(runParamsFile)
		if err != nil {
			return engine.Params{}, err
		}
	}
	params.BatchWindow = jsontime.Duration(time.Hour * 24 * 365 * 100)
	return params, nil
}

// buildProvider creates the diarization client from flags, falling back
// to the context's provider.yaml. A ws:// or wss:// URL selects the
// streaming provider.
func buildProvider(maxPolls int) (diarize.Provider, error) {
	url, key := runProviderURL, runAPIKey
	if url == "" || key == "" {
		if pc, err := loadServiceConfig[providerConfig]("provider"); err == nil {
			if url == "" {
				url = pc.BaseURL
			}
			if key == "" {
				key = pc.APIKey
			}
		}
	}
	if url == "" && key == "" {
		return nil, fmt.Errorf("no diarization provider configured; pass --provider-url/--api-key or run 'hearsay config set <context> provider api_key <key>'")
	}

	if strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://") {
		return diarize.NewRealtime(url, key), nil
	}
	opts := []diarize.HTTPOption{diarize.WithMaxPolls(maxPolls)}
	if url != "" {
		opts = append(opts, diarize.WithBaseURL(url))
	}
	return diarize.NewHTTP(key, opts...), nil
}

// openRunStore opens the configured profile store, or an in-memory one
// when nothing is configured.
func openRunStore() (profile.Store, func(), error) {
	path := resolveStorePath(runStorePath)
	if path == "" {
		printVerbose("no profile store configured, using in-memory profiles for this run")
		return profile.NewMemoryStore(), func() {}, nil
	}
	store, err := profile.NewBadger(profile.BadgerOptions{Dir: path})
	if err != nil {
		return nil, nil, fmt.Errorf("open profile store %s: %w", path, err)
	}
	return store, func() { store.Close() }, nil
}

// openRunArchive resolves the optional batch archive directory.
func openRunArchive() (storage.FileStore, error) {
	dir := runArchiveDir
	if dir == "" {
		if ac, err := loadServiceConfig[archiveConfig]("archive"); err == nil {
			dir = ac.Dir
		}
	}
	if dir == "" {
		return nil, nil
	}
	return storage.NewLocal(dir)
}

// runLogger maps -v to debug logging; without it only warnings surface.
func runLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadTranscript reads one JSON entry per line. Entries without a
// source default to system audio so they are eligible for matching.
func loadTranscript(path string) ([]session.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []session.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var e session.Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if e.Source == "" {
			e.Source = session.SourceSystem
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: no transcript entries", path)
	}
	return entries, nil
}

func earliestTimestamp(entries []session.Entry) time.Time {
	min := entries[0].Timestamp.Time()
	for _, e := range entries[1:] {
		if t := e.Timestamp.Time(); t.Before(min) {
			min = t
		}
	}
	return min
}

// feedSegments slices the decoded audio into fixed-duration segments
// anchored at base and hands them to the engine.
func feedSegments(eng *engine.Engine, samples []float64, rate int, base time.Time) {
	chunk := int(time.Duration(rate) * runSegment / time.Second)
	if chunk <= 0 {
		chunk = len(samples)
	}
	for off := 0; off < len(samples); off += chunk {
		end := min(off+chunk, len(samples))
		ts := base.Add(time.Duration(off) * time.Second / time.Duration(rate))
		eng.AddSegment(pcm.Float64ToBytes(samples[off:end]), rate, ts, "")
	}
}

// printRun renders the resolved session.
func printRun(eng *engine.Engine, transcript *session.MemoryTranscript, ev engine.BatchCompleted) error {
	var speakers []session.Identity
	for _, id := range eng.Registry().Identities() {
		speakers = append(speakers, id)
	}
	slices.SortFunc(speakers, func(a, b session.Identity) int {
		return strings.Compare(a.DisplayName, b.DisplayName)
	})

	if jsonOutput() {
		report := runReport{
			Session:    eng.SessionID(),
			Batch:      ev.BatchID,
			Speakers:   speakers,
			Utterances: ev.Utterances,
		}
		if runTranscript != "" {
			report.Entries = transcript.Entries()
		}
		return printJSON(report)
	}

	fmt.Printf("session %s: %d speakers, %d utterances\n\n",
		shortID(eng.SessionID()), ev.SpeakerCount, ev.Utterances)

	if len(speakers) > 0 {
		fmt.Println(labelStyle.Render("SPEAKERS"))
		w := newTabWriter()
		for _, id := range speakers {
			pitchCol := "-"
			if id.Pitch != nil {
				pitchCol = fmt.Sprintf("%.0f Hz", id.Pitch.AvgHz)
			}
			profileCol := id.ProfileID
			if profileCol == "" {
				profileCol = "(session only)"
			} else {
				profileCol = shortID(profileCol)
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", swatch(id.Color), id.DisplayName, profileCol, pitchCol)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if runTranscript == "" {
		return nil
	}

	fmt.Println()
	fmt.Println(labelStyle.Render("TRANSCRIPT"))
	for _, e := range transcript.Entries() {
		name := dimStyle.Render("(" + e.Speaker.State.String() + ")")
		if e.Speaker.State == session.StateResolved {
			name = e.Speaker.Label
		}
		fmt.Printf("  %s  %-22s  %s\n", e.Timestamp.Time().Format("15:04:05"), name, e.Text)
	}
	return nil
}

func init() {
	runBatchCmd.Flags().StringVarP(&runParamsFile, "params", "f", "", "engine tunables YAML file")
	runBatchCmd.Flags().StringVar(&runTranscript, "transcript", "", "JSONL transcript to resolve speakers onto")
	runBatchCmd.Flags().DurationVar(&runSegment, "segment", 5*time.Second, "segment length the audio is sliced into")
	runBatchCmd.Flags().StringVar(&runProviderURL, "provider-url", "", "diarization endpoint (ws:// streams, http:// uploads and polls)")
	runBatchCmd.Flags().StringVar(&runAPIKey, "api-key", "", "diarization API key")
	runBatchCmd.Flags().StringVar(&runStorePath, "store", "", "profile store directory (default: context store.path)")
	runBatchCmd.Flags().StringVar(&runArchiveDir, "archive", "", "archive batch audio under this directory")
	runBatchCmd.Flags().StringVar(&runSessionID, "session", "", "session id for archive paths and logs (default: random)")

	rootCmd.AddCommand(runBatchCmd)
}
