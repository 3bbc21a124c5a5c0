package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/megamcloud/starcoin/logx"
)

var rootCmd = &cobra.Command{
	Use:   "starcoin",
	Short: "Starcoin chain node CLI",
	Long:  "Command line interface for running and managing a starcoin chain node.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
