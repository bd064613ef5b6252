package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "skirmishd",
	Short: "skirmishd runs live turn-based encounter rooms",
	Long: `skirmishd hosts multiplayer tabletop combat encounters: session rooms
with an authoritative turn engine, durable snapshots in Redis, and an
HTTP gateway plus MCP surface for clients and agents.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
}
