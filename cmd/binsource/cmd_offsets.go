package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// getOffsetsCmd returns the offsets command group
func getOffsetsCmd(root *rootEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsets",
		Short: "Inspect or reset committed cursors.",
		Long: `
Reads the cursor store named by offsets.path. The store is locked while
"binsource run" is active, stop the service first.`,
	}
	cmd.AddCommand(getOffsetsListCmd(root), getOffsetsResetCmd(root))
	return cmd
}

func getOffsetsListCmd(root *rootEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print committed cursors as YAML.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			cursors, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			list := make([]domain.Cursor, 0, len(cursors))
			for _, c := range cursors {
				list = append(list, c)
			}
			sort.Slice(list, func(i, j int) bool { return list[i].Resource < list[j].Resource })

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(list); err != nil {
				return fmt.Errorf("failed to encode cursors: %w", err)
			}
			return enc.Close()
		},
	}
}

func getOffsetsResetCmd(root *rootEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <resource>",
		Short: "Delete the committed cursor of one resource so it is read from the start.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			resource, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			_, found, err := store.Get(cmd.Context(), resource)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no committed cursor for %s", resource)
			}
			if err := store.Delete(cmd.Context(), resource); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", resource)
			return nil
		},
	}
}
