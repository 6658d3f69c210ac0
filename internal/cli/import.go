package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rpattn/changetrack/internal/ingestion"
)

var importHeaderRow int

var importCmd = &cobra.Command{
	Use:   "import <entity> <file>",
	Short: "Import a CSV or XLSX file as entity instances",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if err := a.open(cmd.Context(), false); err != nil {
			return err
		}
		defer a.close()

		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[1], err)
		}
		defer f.Close()

		req := ingestion.Request{Entity: args[0], FileName: filepath.Base(args[1]), Data: f}
		if importHeaderRow > 0 {
			idx := importHeaderRow - 1
			req.HeaderRowIndex = &idx
		}
		summary, err := ingestion.NewService(a.service, a.logger).Ingest(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(summary)
		}
		fmt.Printf("Rows: %d, created: %d, updated: %d, invalid: %d\n",
			summary.TotalRows, summary.Created, summary.Updated, summary.InvalidRows)
		for _, rowErr := range summary.Errors {
			fmt.Printf("  row %d: %s\n", rowErr.RowNumber, rowErr.Message)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().IntVar(&importHeaderRow, "header-row", 0, "1-based header row (default: first non-empty row)")
	rootCmd.AddCommand(importCmd)
}
