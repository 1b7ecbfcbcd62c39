package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	sessionDir string
	verbose    bool
)

// rootCmd represents the base command when the `portalctl` binary is called without any subcommands.
// rootCmd 代表在没有任何子命令的情况下调用 `portalctl` 二进制文件时的基本命令。
var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Command-line client for the academic portal backend.",
	Long: `portalctl logs in to the portal's identity provider and calls the academic
REST and GraphQL APIs with a token that is refreshed automatically. The session is
kept in the user's config directory between runs.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to the gateway config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", "", "directory holding the saved session (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log token lifecycle events to stderr")
}

// Execute is the main entry point for the CLI application.
// Execute 是 CLI 应用程序的主入口点。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

//Personal.AI order the ending
