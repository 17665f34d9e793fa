package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "veritas",
		Short: "Automated news fact-checking",
	}
	root.AddCommand(serveCMD(), checkCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
