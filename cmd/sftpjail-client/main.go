package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/mevdschee/sftpjail/internal/client"
	"github.com/mevdschee/sftpjail/internal/logger"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var opts = client.Options{
	Host:    "127.0.0.1",
	Port:    2222,
	User:    "eagle",
	Timeout: 10 * time.Second,
}

var rootCmd = &cobra.Command{
	Use:   "sftpjail-client",
	Short: "Push and pull feed files on an sftpjail server",
	Long: `sftpjail-client lists, uploads and downloads files on an sftpjail server.

The password is read from SFTP_PASS, or prompted for when no identity file is
given and stdin is a terminal.`,
	SilenceUsage:      true,
	PersistentPreRunE: resolvePassword,
}

var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "List a remote directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "/"
		if len(args) == 1 {
			dir = args[0]
		}
		return withClient(func(c *client.Client) error {
			names, err := c.List(dir)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <remote> [local]",
	Short: "Download a remote file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		local := path.Base(args[0])
		if len(args) == 2 {
			local = args[1]
		}
		return withClient(func(c *client.Client) error {
			tmp, err := os.CreateTemp(filepath.Dir(local), ".sftpjail-*")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())

			t, err := c.Download(args[0], tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			if err := os.Rename(tmp.Name(), local); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%d bytes)\n", t.SHA256, local, t.Bytes)
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <local> <remote>",
	Short: "Upload a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return withClient(func(c *client.Client) error {
			t, err := c.Upload(f, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%d bytes)\n", t.SHA256, args[1], t.Bytes)
			return nil
		})
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.Host, "host", "H", opts.Host, "server host")
	flags.IntVarP(&opts.Port, "port", "p", opts.Port, "server port")
	flags.StringVarP(&opts.User, "user", "u", opts.User, "login name")
	flags.StringVarP(&opts.IdentityFile, "identity", "i", "", "private key file")
	flags.StringVar(&opts.KnownHostsFile, "known-hosts", "", "known_hosts file to verify the server key (default: accept any key and warn)")
	flags.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "connect timeout")

	rootCmd.AddCommand(lsCmd, getCmd, putCmd)
}

func resolvePassword(cmd *cobra.Command, args []string) error {
	opts.Password = os.Getenv("SFTP_PASS")
	if opts.Password != "" || opts.IdentityFile != "" {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("set SFTP_PASS or --identity when stdin is not a terminal")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s@%s's password: ", opts.User, opts.Host)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	opts.Password = string(pw)
	return nil
}

func withClient(fn func(*client.Client) error) error {
	c, err := client.Dial(opts)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func main() {
	// Warnings go to stderr so they never mix with listings on stdout.
	if err := logger.Init(logger.Config{Level: "WARN", Format: "text", Output: "stderr"}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
