// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/sqelf/internal/core"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sqelf",
	Short: "sqelf - GELF over UDP receiver",
	Long: `sqelf receives GELF messages over UDP, reassembles chunked and
compressed datagrams, and forwards each message as a CLEF event to one or
more outputs (stdout, file, Kafka, Beats).

Without a config file the server listens on 0.0.0.0:12201 and writes events
to stdout. Every config key can be overridden with a SQELF_ environment
variable, e.g. SQELF_SERVER_BIND=127.0.0.1:12201.`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and SQELF_ env vars when empty)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
