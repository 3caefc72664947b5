package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearsay-ai/hearsay/pkg/profile"
)

var (
	profilesStorePath string
	profilesJQ        string
	profilesKind      string
)

var profilesCmd = &cobra.Command{
	Use:     "profiles",
	Aliases: []string{"profile"},
	Short:   "Manage stored voice profiles",
	Long: `Inspect and edit the persistent voice profile store.

Profiles are auto-created as "Speaker N (Unnamed)" when a new voice
appears in a diarization batch. Confirm one to give it a real name, or
create profiles ahead of time for known voices. Ids may be abbreviated
to any unique prefix.

Examples:
  hearsay profiles list
  hearsay profiles list -o json --jq '.[] | select(.confirmed) | .name'
  hearsay profiles create "Alice Chen" --kind colleague
  hearsay profiles confirm 3fa9 "Bob Park" --kind client
  hearsay profiles rename 3fa9 "Alice C."
  hearsay profiles delete 3fa9`,
}

var profilesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProfileStore(profilesStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		var profiles []*profile.Profile
		for p, err := range store.List(cmd.Context()) {
			if err != nil {
				return err
			}
			profiles = append(profiles, p)
		}
		slices.SortFunc(profiles, func(a, b *profile.Profile) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})

		if profilesJQ != "" {
			return printJQ(profiles, profilesJQ)
		}
		if jsonOutput() {
			return printJSON(profiles)
		}

		if len(profiles) == 0 {
			fmt.Println("No profiles stored.")
			fmt.Println("Profiles are created by 'hearsay run' or 'hearsay profiles create <name>'.")
			return nil
		}

		w := newTabWriter()
		fmt.Fprintln(w, " \tID\tNAME\tKIND\tSTATUS\tPITCH\tLAST SEEN")
		for _, p := range profiles {
			status := "unconfirmed"
			if p.Confirmed {
				status = "confirmed"
			}
			pitchCol := "-"
			if p.Pitch != nil {
				pitchCol = fmt.Sprintf("%.0f Hz", p.Pitch.AvgHz)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				swatch(p.Color), shortID(p.ID), p.Name, p.Kind, status,
				pitchCol, p.LastSeenAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var profilesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a confirmed profile for a known voice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(profilesKind)
		if err != nil {
			return err
		}
		store, err := openProfileStore(profilesStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		p := &profile.Profile{Name: args[0], Kind: kind, Confirmed: true}
		if err := store.Create(cmd.Context(), p); err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(p)
		}
		fmt.Printf("Created profile %s (%s).\n", shortID(p.ID), p.Name)
		fmt.Println(dimStyle.Render("The voice fingerprint is learned the first time this speaker is heard."))
		return nil
	},
}

var profilesRenameCmd = &cobra.Command{
	Use:   "rename <id> <new-name>",
	Short: "Rename a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProfileStore(profilesStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveProfileID(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		p, err := store.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		old := p.Name
		p.Name = args[1]
		if err := store.Update(cmd.Context(), p); err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(p)
		}
		fmt.Printf("Renamed profile %s: %q -> %q.\n", shortID(id), old, p.Name)
		return nil
	},
}

var profilesConfirmCmd = &cobra.Command{
	Use:   "confirm <id> <name>",
	Short: "Promote an auto-created profile to a named identity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(profilesKind)
		if err != nil {
			return err
		}
		store, err := openProfileStore(profilesStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveProfileID(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		p, err := store.Confirm(cmd.Context(), id, args[1], kind)
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(p)
		}
		fmt.Printf("Confirmed profile %s as %s (%s).\n", shortID(p.ID), p.Name, p.Kind)
		return nil
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProfileStore(profilesStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveProfileID(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), id); err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(map[string]string{"deleted": id})
		}
		fmt.Printf("Deleted profile %s.\n", shortID(id))
		return nil
	},
}

// resolveProfileID accepts a full profile id or any unique id prefix.
func resolveProfileID(ctx context.Context, store profile.Store, arg string) (string, error) {
	_, err := store.Get(ctx, arg)
	if err == nil {
		return arg, nil
	}
	if !errors.Is(err, profile.ErrNotFound) {
		return "", err
	}

	var matches []string
	for p, err := range store.List(ctx) {
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(p.ID, arg) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("profile %q not found", arg)
	default:
		return "", fmt.Errorf("profile id %q is ambiguous (%d matches)", arg, len(matches))
	}
}

func parseKind(s string) (profile.Kind, error) {
	switch k := profile.Kind(s); k {
	case profile.KindUser, profile.KindColleague, profile.KindClient, profile.KindOther:
		return k, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want user, colleague, client or other)", s)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	profilesCmd.PersistentFlags().StringVar(&profilesStorePath, "store", "", "profile store directory (default: context store.path)")
	profilesListCmd.Flags().StringVar(&profilesJQ, "jq", "", "filter JSON output with a jq expression")
	profilesCreateCmd.Flags().StringVar(&profilesKind, "kind", string(profile.KindOther), "profile kind: user, colleague, client or other")
	profilesConfirmCmd.Flags().StringVar(&profilesKind, "kind", string(profile.KindOther), "profile kind: user, colleague, client or other")

	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesCreateCmd)
	profilesCmd.AddCommand(profilesRenameCmd)
	profilesCmd.AddCommand(profilesConfirmCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)

	rootCmd.AddCommand(profilesCmd)
}
