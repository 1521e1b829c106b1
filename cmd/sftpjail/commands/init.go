package commands

import (
	"fmt"

	"github.com/mevdschee/sftpjail/internal/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample sftpjail configuration file with a generated password.

By default, the configuration file is created at $XDG_CONFIG_HOME/sftpjail/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  sftpjail init

  # Force overwrite existing config
  sftpjail init --config /etc/sftpjail/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, password, err := config.InitConfig(cfgFile, initForce)
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintf(out, "Generated password for user %q: %s\n", config.GetDefaultConfig().Auth.Username, password)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit the configuration file to set the storage root and account")
	fmt.Fprintf(out, "  2. Start the server with: sftpjail serve --config %s\n", configPath)
	return nil
}
