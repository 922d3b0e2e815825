// Package main provides the entry point for the BOM generator CLI and HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bom_agent",
	Short: "BOM Document Generator",
	Long: `BOM Agent generates a bill of materials, a material specification sheet, one compliance
certificate per part and an approved vendor list for a product, and packages them as a ZIP archive.`,
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
