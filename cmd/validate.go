package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/sqelf/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective settings",
	Long: `Load the configuration (file, defaults and SQELF_ environment variables),
validate it, and print the effective settings as YAML.

Also warns when the chunk buffer limits could hold more partial messages
than this host has memory for.

Examples:
  sqelf validate -c /etc/sqelf/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(configFile, config.SystemFreeMemory(), os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

func runValidate(path string, freeMemory uint64, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	// Round-trip through mapstructure so the dump uses config key names.
	var effective map[string]any
	if err := mapstructure.Decode(cfg, &effective); err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"sqelf": effective}); err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if warning := cfg.MemoryWarning(freeMemory); warning != "" {
		fmt.Fprintf(out, "WARNING: %s\n", warning)
	}
	fmt.Fprintf(out, "VALID: %d output(s), listening on %s\n", len(cfg.Outputs), cfg.Server.Bind)
	return nil
}
