package main

import (
	"fmt"
	"os"

	"github.com/SteelMorgan/binary-file-source/internal/config"
	"github.com/SteelMorgan/binary-file-source/internal/offset"
	"github.com/spf13/cobra"

	// sink drivers register themselves
	_ "github.com/SteelMorgan/binary-file-source/internal/sink/kafka"
	_ "github.com/SteelMorgan/binary-file-source/internal/sink/stdout"
)

const version = "0.1.0"

// rootEnv holds the flags shared by every sub-command
type rootEnv struct {
	configPath string
}

func main() {
	if err := getRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getRootCmd returns the binsource command tree
func getRootCmd() *cobra.Command {
	env := &rootEnv{}
	cmd := &cobra.Command{
		Use:   "binsource",
		Short: "Ingest raw binary files as byte-offset chunks.",
		Long: `Ingest raw binary files as byte-offset chunks.

Watches a directory (or a single file), reads appended bytes in bounded
chunks and publishes them with their offsets. Cursors are committed only
after the sink acknowledged the records.

	binsource run --config binsource.yml
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.PersistentFlags().StringVarP(&env.configPath, "config", "c", "binsource.yml", "Path to the YAML configuration file")

	cmd.AddCommand(
		getRunCmd(env),
		getOffsetsCmd(env),
		getConfigCmd(env),
	)
	return cmd
}

func (r *rootEnv) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the cursor store selected by the configuration
func openStore(cfg *config.Config) (offset.Store, error) {
	if cfg.Offsets.InMemory {
		return offset.NewMemoryStore(), nil
	}
	return offset.NewBoltDBStore(cfg.Offsets.Path)
}
