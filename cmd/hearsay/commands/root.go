package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/hearsay-ai/hearsay/cmd/hearsay/internal/config"
	"github.com/hearsay-ai/hearsay/pkg/profile"
)

var (
	// Global flags
	verbose      bool
	outputFormat string
	contextName  string
)

var rootCmd = &cobra.Command{
	Use:   "hearsay",
	Short: "Speaker identity resolution for meeting transcripts",
	Long: `hearsay - resolve who is speaking on a live transcript.

Commands:
  pitch     Fingerprint the voice in a WAV sample
  run       Diarize a recording and resolve speakers offline
  profiles  Manage stored voice profiles
  config    Manage contexts (provider, store, archive)
  version   Show version information

Configuration is stored in the OS config directory:
  macOS:   ~/Library/Application Support/hearsay/
  Linux:   ~/.config/hearsay/
  Windows: %AppData%/hearsay/

Examples:
  # Configure a context and make it current
  hearsay config set dev provider api_key YOUR_KEY
  hearsay config set dev store path ~/.local/share/hearsay/profiles
  hearsay config use-context dev

  # Fingerprint a sample, then resolve a whole recording
  hearsay pitch sample.wav
  hearsay run meeting.wav --transcript meeting.jsonl

  # Inspect stored profiles
  hearsay profiles list -o json --jq '.[].name'`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "config context (default: current context)")
}

// jsonOutput reports whether -o json was requested.
func jsonOutput() bool {
	return outputFormat == "json"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printJQ filters v through a jq expression and prints each result as a
// JSON line. v is round-tripped through JSON so the query sees plain
// maps and slices.
func printJQ(v any, expr string) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return err
	}

	iter := query.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		line, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
	}
}

func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// ---------------------------------------------------------------------------
// styles
// ---------------------------------------------------------------------------

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

// swatch renders a colored dot for a profile color, or a space when the
// color is unset so table columns stay aligned.
func swatch(hex string) string {
	if hex == "" {
		return " "
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Render("●")
}

// ---------------------------------------------------------------------------
// context-backed service configs
// ---------------------------------------------------------------------------

// providerConfig is contexts/<name>/provider.yaml.
type providerConfig struct {
	// APIKey authenticates against the diarization API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint. A ws:// or wss:// URL selects
	// the streaming provider instead of the upload/poll one.
	BaseURL string `yaml:"base_url"`
}

// storeConfig is contexts/<name>/store.yaml.
type storeConfig struct {
	// Path is the profile database directory.
	Path string `yaml:"path"`
}

// archiveConfig is contexts/<name>/archive.yaml.
type archiveConfig struct {
	// Dir is the local directory batch audio is archived under.
	Dir string `yaml:"dir"`
}

// loadServiceConfig reads a typed service config from the selected
// context (-c flag, else the current context).
func loadServiceConfig[T any](service string) (*T, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dir, err := cfg.ResolveContext(contextName)
	if err != nil {
		return nil, err
	}
	return config.LoadService[T](dir, service)
}

// resolveStorePath returns the profile store directory: the explicit
// flag when given, else the context's store.yaml. Empty when neither is
// configured.
func resolveStorePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	sc, err := loadServiceConfig[storeConfig]("store")
	if err != nil {
		return ""
	}
	return sc.Path
}

// openProfileStore opens the Badger-backed profile store for CLI
// commands. The caller must Close it.
func openProfileStore(flagPath string) (*profile.BadgerStore, error) {
	path := resolveStorePath(flagPath)
	if path == "" {
		return nil, fmt.Errorf("no profile store configured; pass --store <dir> or run 'hearsay config set <context> store path <dir>'")
	}
	store, err := profile.NewBadger(profile.BadgerOptions{Dir: path})
	if err != nil {
		return nil, fmt.Errorf("open profile store %s: %w", path, err)
	}
	return store, nil
}
