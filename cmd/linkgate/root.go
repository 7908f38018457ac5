package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the LinkGate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkgate",
		Short: "LinkGate - connection authentication gate",
		Long: `LinkGate gates new connections to a multiplayer session behind a
one-time numeric link code issued out of band.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCodeCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
