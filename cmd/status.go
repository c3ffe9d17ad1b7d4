package main

import (
	"context"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxid-cli/internal/batch"
	"github.com/sells-group/taxid-cli/internal/checkpoint"
	"github.com/sells-group/taxid-cli/internal/config"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/normalize"
)

var (
	statusInput  string
	statusFormat string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress stored in the output",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("input") {
			cfg.Input.Path = statusInput
		}
		report, err := buildStatus(cmd.Context(), cfg, cmd.Flags().Changed("input"))
		if err != nil {
			return err
		}
		return writeStatus(cmd.OutOrStdout(), report, statusFormat)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusInput, "input", "", "input spreadsheet; when set the pending count is reported")
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "output format: table or yaml")
	rootCmd.AddCommand(statusCmd)
}

// StatusReport summarizes a checkpoint store.
type StatusReport struct {
	Store    string         `yaml:"store"`
	Total    int            `yaml:"total"`
	Found    int            `yaml:"found"`
	ByStatus map[string]int `yaml:"by_status"`
	Inputs   *int           `yaml:"inputs,omitempty"`
	Pending  *int           `yaml:"pending,omitempty"`
}

func buildStatus(ctx context.Context, c *config.Config, withInput bool) (*StatusReport, error) {
	store, err := checkpoint.Open(ctx, storeOptions(c, model.Layout{}))
	if err != nil {
		return nil, eris.Wrap(err, "open output store")
	}
	defer store.Close() //nolint:errcheck

	results, err := store.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load results")
	}

	r := &StatusReport{Store: store.Location(), Total: len(results), ByStatus: make(map[string]int)}
	for _, res := range results {
		r.ByStatus[string(res.Status)]++
		if res.Identifier != "" {
			r.Found++
		}
	}

	if withInput {
		sheet, err := loadInput(c.Input)
		if err != nil {
			return nil, err
		}
		plan := batch.NewPlan(sheet.Records, results, batch.PlanOptions{Key: normalize.Key})
		inputs, pending := len(sheet.Records), len(plan.Pending)
		r.Inputs, r.Pending = &inputs, &pending
	}
	return r, nil
}

func writeStatus(w io.Writer, r *StatusReport, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "encode status")
		}
		return enc.Close()
	case "table", "":
	default:
		return eris.Errorf("unknown format %q", format)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(r.Store)
	t.AppendHeader(table.Row{"Status", "Rows"})
	for _, st := range model.AllStatuses {
		if n := r.ByStatus[string(st)]; n > 0 {
			t.AppendRow(table.Row{st, n})
		}
	}
	t.AppendFooter(table.Row{"Total", r.Total})
	t.AppendFooter(table.Row{"With RUC", r.Found})
	if r.Pending != nil {
		t.AppendFooter(table.Row{"Pending", *r.Pending})
	}
	t.Render()
	return nil
}
