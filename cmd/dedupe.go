package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/batch"
	"github.com/sells-group/taxid-cli/internal/input"
	"github.com/sells-group/taxid-cli/internal/tabular"
)

var (
	dedupeOutput    string
	dedupeKeyColumn string
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe [file]",
	Short: "Remove consecutive duplicate companies from a spreadsheet",
	Long:  "Keeps the first row of every run of adjacent rows with the same company name and writes the result next to the input as <name>_LIMPIO.<ext>.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Input.Path
		if len(args) == 1 {
			path = args[0]
		}
		out := dedupeOutput
		if out == "" {
			out = cleanedPath(path)
		}
		_, err := dedupeFile(path, out, dedupeKeyColumn, cmd.OutOrStdout())
		return err
	},
}

func init() {
	dedupeCmd.Flags().StringVarP(&dedupeOutput, "output", "o", "", "output file (default <name>_LIMPIO.<ext>)")
	dedupeCmd.Flags().StringVar(&dedupeKeyColumn, "key-column", "", "company name column (default: detected)")
	rootCmd.AddCommand(dedupeCmd)
}

// DedupeReport counts what dedupeFile removed.
type DedupeReport struct {
	KeyColumn string
	Original  int
	Removed   int
	Output    string
}

// Kept returns the rows written.
func (r DedupeReport) Kept() int { return r.Original - r.Removed }

// Reduction is the removed share in percent.
func (r DedupeReport) Reduction() float64 {
	if r.Original == 0 {
		return 0
	}
	return float64(r.Removed) / float64(r.Original) * 100
}

func cleanedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_LIMPIO" + ext
}

// dedupeFile keeps the first row of each run of rows whose trimmed,
// upper-cased key is equal.
func dedupeFile(path, out, keyColumn string, w io.Writer) (DedupeReport, error) {
	sheet, err := input.Load(path, input.Options{KeyColumn: keyColumn, AuxColumns: []string{}})
	if err != nil {
		return DedupeReport{}, err
	}

	kept, _ := batch.DedupeConsecutive(sheet.Records, func(k string) string {
		return strings.ToUpper(strings.TrimSpace(k))
	})
	cleaned := tabular.Table{Header: sheet.Header, Rows: make([][]string, 0, len(kept))}
	for _, rec := range kept {
		cleaned.Rows = append(cleaned.Rows, sheet.Rows[rec.Index])
	}
	if err := tabular.Write(out, cleaned, ""); err != nil {
		return DedupeReport{}, eris.Wrapf(err, "dedupe: write %s", out)
	}

	r := DedupeReport{
		KeyColumn: sheet.KeyColumn,
		Original:  len(sheet.Records),
		Removed:   len(sheet.Records) - len(kept),
		Output:    out,
	}
	zap.L().Info("dedupe: done",
		zap.String("input", path),
		zap.String("output", out),
		zap.String("key_column", r.KeyColumn),
		zap.Int("removed", r.Removed),
	)
	fmt.Fprintf(w, "Column:          %s\n", r.KeyColumn)
	fmt.Fprintf(w, "Original rows:   %d\n", r.Original)
	fmt.Fprintf(w, "Duplicates:      %d\n", r.Removed)
	fmt.Fprintf(w, "Rows written:    %d\n", r.Kept())
	fmt.Fprintf(w, "Reduction:       %.1f%%\n", r.Reduction())
	fmt.Fprintf(w, "Saved to:        %s\n", out)
	return r, nil
}
