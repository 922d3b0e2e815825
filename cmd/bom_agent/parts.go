package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jonathan/bom-generator/internal/parsing"
	"github.com/jonathan/bom-generator/internal/types"
)

var (
	partsInput string
	partsJSON  bool
)

var partsCommand = &cobra.Command{
	Use:   "parts",
	Short: "Extract the parts list from a saved BOM response",
	Long: `Reads a raw BOM response (the "CSV:" section followed by the "JSON:" section), splits it and
prints the parts a generation run would issue compliance certificates for.`,
	RunE: runPartsCmd,
}

var industriesCommand = &cobra.Command{
	Use:   "industries",
	Short: "List the suggested industries and their example products",
	RunE:  runIndustriesCmd,
}

func init() {
	partsCommand.Flags().StringVarP(&partsInput, "in", "i", "", "Path to the saved BOM response")
	partsCommand.Flags().BoolVar(&partsJSON, "json", false, "Print the parts as JSON")
	_ = partsCommand.MarkFlagRequired("in")

	rootCmd.AddCommand(partsCommand)
	rootCmd.AddCommand(industriesCommand)
}

func runPartsCmd(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(partsInput)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", partsInput, err)
	}

	artifact, err := parsing.SplitBOMResponse(string(data))
	if err != nil {
		return err
	}
	extraction, err := parsing.ExtractParts(artifact.PartsJSONText)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if partsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(extraction)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PART NUMBER\tDESCRIPTION")
	for _, p := range extraction.Parts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", p.PartNumber, p.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, d := range extraction.Dropped {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "skipped part #%d: %s\n", d.Index, d.Reason)
	}
	_, _ = fmt.Fprintf(out, "%d parts, %d skipped\n", len(extraction.Parts), len(extraction.Dropped))
	return nil
}

func runIndustriesCmd(cmd *cobra.Command, _ []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "INDUSTRY\tEXAMPLE PRODUCT")
	for _, ind := range types.Industries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", ind.Name, ind.ExampleProduct)
	}
	return tw.Flush()
}
