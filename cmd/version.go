package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"firestige.xyz/sqelf/internal/core"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sqelf %s (%s, %s/%s)\n",
			core.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
