package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearsay-ai/hearsay/cmd/hearsay/internal/config"
)

// validateServiceName checks that a service name is non-empty and safe
// for use as a filename.
func validateServiceName(service string) error {
	if service == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if strings.ContainsAny(service, "/\\") {
		return fmt.Errorf("service name %q must not contain path separators", service)
	}
	if strings.HasPrefix(service, ".") {
		return fmt.Errorf("service name %q must not start with '.'", service)
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage contexts and service settings.

A context is a named directory holding per-service YAML config files:
provider.yaml (api_key, base_url), store.yaml (path) and archive.yaml
(dir). Setting a value creates the context on first use.

Examples:
  hearsay config set dev provider api_key sk-xxxx
  hearsay config set dev provider base_url https://api.assemblyai.com
  hearsay config set dev store path ~/.local/share/hearsay/profiles
  hearsay config use-context dev`,
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		name := args[0]

		if err := cfg.UseContext(name); err != nil {
			return err
		}
		fmt.Printf("Switched to context %q.\n", name)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <context> <service> <key> <value>",
	Short: "Set a service config value",
	Long: `Set a key-value pair in a service's YAML config file. The context
directory is created if it does not exist yet.

Examples:
  hearsay config set dev provider api_key sk-xxxx
  hearsay config set dev store path /var/lib/hearsay/profiles
  hearsay config set dev archive dir /var/lib/hearsay/batches`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctxName, service, key, value := args[0], args[1], args[2], args[3]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceName(service); err != nil {
			return err
		}

		contextDir := cfg.ContextDir(ctxName)

		// Merge into the existing service config; a missing or empty
		// file starts fresh.
		m := map[string]any{key: value}
		if existing, err := config.LoadService[map[string]any](contextDir, service); err == nil && *existing != nil {
			m = *existing
			m[key] = value
		}

		if err := config.SaveService(contextDir, service, &m); err != nil {
			return err
		}

		fmt.Printf("Set %s.%s = %s (context: %s)\n", service, key, value, ctxName)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configSetCmd)

	rootCmd.AddCommand(configCmd)
}
