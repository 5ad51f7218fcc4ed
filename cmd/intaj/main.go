package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intaj",
		Short: "Multi-channel conversational gateway",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
