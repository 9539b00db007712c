package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trial-matcher-server/internal/setup"
)

var setupFlags struct {
	binary       string
	clientConfig string
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Register the MCP server with a desktop MCP client",
}

var setupRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Add or replace the trial-matcher entry in the client config",
	RunE: func(cmd *cobra.Command, _ []string) error {
		entry, err := setup.Register(setup.Options{
			ConfigPath: setupFlags.clientConfig,
			BinaryPath: setupFlags.binary,
			Lite:       lite,
			DataDir:    dataDir,
			ConfigFile: cfgFile,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "registered %s: %s %s\n", setup.ServerName, entry.Command, strings.Join(entry.Args, " "))
		fmt.Fprintln(out, "restart the MCP client to pick up the change")
		return nil
	},
}

var setupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the trial-matcher entry is registered",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, err := setup.GetStatus(setupFlags.clientConfig)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "client config: %s\n", status.ConfigPath)
		fmt.Fprintf(out, "registered:    %t\n", status.Registered)
		if status.Registered {
			fmt.Fprintf(out, "command:       %s %s\n", status.Command, strings.Join(status.Args, " "))
		}
		if status.DataDir != "" {
			fmt.Fprintf(out, "data dir:      %s\n", status.DataDir)
		}
		for _, issue := range status.Issues {
			fmt.Fprintf(out, "  ! %s\n", issue)
		}
		return nil
	},
}

func init() {
	setupCmd.PersistentFlags().StringVar(&setupFlags.clientConfig, "client-config", "", "MCP client config file (default is the platform location)")
	setupRegisterCmd.Flags().StringVar(&setupFlags.binary, "binary", "", "path to the trialmatch binary (default from PATH)")
	setupCmd.AddCommand(setupRegisterCmd, setupStatusCmd)
}
