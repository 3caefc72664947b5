package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearsay-ai/hearsay/pkg/audio/wav"
	"github.com/hearsay-ai/hearsay/pkg/pitch"
)

// pitchReport is the JSON shape of one pitch analysis.
type pitchReport struct {
	File       string `json:"file"`
	SampleRate int    `json:"sample_rate"`
	DurationMS int64  `json:"duration_ms"`
	pitch.Result
}

var pitchCmd = &cobra.Command{
	Use:   "pitch <file.wav>",
	Short: "Fingerprint the voice in a WAV sample",
	Long: `Analyze the fundamental frequency of a speech sample and print its
pitch fingerprint: frequency range, average, dominant bin and a
confidence score. Stereo files are downmixed to mono before analysis.

Examples:
  hearsay pitch sample.wav
  hearsay pitch sample.wav -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		samples, format, err := wav.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}

		duration := time.Duration(len(samples)) * time.Second / time.Duration(format.SampleRate)
		printVerbose("analyzing %s: %d samples at %d Hz", path, len(samples), format.SampleRate)

		res, err := pitch.New(pitch.DefaultConfig(format.SampleRate)).Analyze(samples)
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(pitchReport{
				File:       path,
				SampleRate: format.SampleRate,
				DurationMS: duration.Milliseconds(),
				Result:     *res,
			})
		}

		fmt.Printf("%s: %s at %d Hz\n\n", path, duration.Round(10*time.Millisecond), format.SampleRate)
		row := func(label, value string) {
			fmt.Printf("  %s%s\n", labelStyle.Render(fmt.Sprintf("%-12s", label)), value)
		}
		row("average", fmt.Sprintf("%.1f Hz", res.AvgHz))
		row("range", fmt.Sprintf("%.1f - %.1f Hz", res.MinHz, res.MaxHz))
		row("dominant", fmt.Sprintf("%.1f Hz", res.DominantHz))
		row("variance", fmt.Sprintf("%.1f", res.Variance))
		row("confidence", fmt.Sprintf("%.2f", res.Confidence))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pitchCmd)
}
