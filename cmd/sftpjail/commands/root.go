// Package commands implements the sftpjail server CLI.
package commands

import (
	"runtime"

	"github.com/mevdschee/sftpjail/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "sftpjail",
	Short: "Jailed SFTP server for feed drop-off",
	Long: `sftpjail serves one directory tree over SFTP to a single account.
Clients can list directories and upload or download files; every path is
confined to the configured root.

Use "sftpjail [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("sftpjail %s (commit %s, built %s, %s)\n", Version, Commit, Date, runtime.Version())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/sftpjail/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath() + " (if present), environment, defaults"
}
