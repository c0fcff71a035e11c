package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/sqelf/internal/daemon"
)

// serverCmd runs the receiver in the foreground.
var serverCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"run"},
	Short:   "Run the GELF receiver in foreground",
	Long: `Run the GELF receiver in foreground.

The server will:
  1. Load configuration from the config file and SQELF_ environment variables
  2. Initialize logging (stderr) and metrics (if enabled)
  3. Build the configured outputs
  4. Bind the UDP socket and receive until SIGTERM/SIGINT, or stdin EOF
     when server.wait_on_stdin is set
  5. Flush in-flight events and close outputs

SIGHUP re-applies the log section of the config file.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServer(); err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	},
}

var pidFile string

func init() {
	serverCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (overrides control.pid_file)")
}

func runServer() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	return d.Run()
}
