package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/sqelf/internal/config"
	"firestige.xyz/sqelf/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running server",
	Long: `Stop a running server gracefully.

Reads the PID file (--pidfile, or control.pid_file from the config), sends
SIGTERM and waits for the server to remove its PID file.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := stopPIDFile
		if path == "" {
			cfg, err := config.Load(configFile)
			if err != nil {
				exitWithError("failed to load config", err)
			}
			path = cfg.Control.PIDFile
		}
		if path == "" {
			exitWithError("no PID file configured (use --pidfile or control.pid_file)", nil)
		}
		if err := daemon.StopProcess(path, stopTimeout); err != nil {
			exitWithError("failed to stop server", err)
		}
		fmt.Println("✓ Server stopped")
	},
}

var (
	stopPIDFile string
	stopTimeout time.Duration
)

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "", "PID file path")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "time to wait for exit")
}
