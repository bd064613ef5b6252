package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tabletoplab/skirmish"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of skirmishd",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("skirmishd version %s\n", skirmish.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
