package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/conduit/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers with availability and circuit health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("format")

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return writeProviders(cmd.OutOrStdout(), format, providerRows(a.Registry.ListAvailable(ctx)))
	},
}

type providerRow struct {
	Name         string  `json:"name" yaml:"name"`
	Type         string  `json:"type" yaml:"type"`
	Model        string  `json:"model" yaml:"model"`
	Active       bool    `json:"active" yaml:"active"`
	Available    bool    `json:"available" yaml:"available"`
	CircuitState string  `json:"circuit_state" yaml:"circuit_state"`
	HealthScore  int     `json:"health_score" yaml:"health_score"`
	AvgMs        float64 `json:"avg_response_ms" yaml:"avg_response_ms"`
}

func providerRows(list []provider.Status) []providerRow {
	rows := make([]providerRow, 0, len(list))
	for _, s := range list {
		rows = append(rows, providerRow{
			Name:         s.Name,
			Type:         s.Kind.String(),
			Model:        s.Model,
			Active:       s.Active,
			Available:    s.Available,
			CircuitState: s.Health.State.String(),
			HealthScore:  s.Health.HealthScore,
			AvgMs:        s.Health.AvgResponseMs,
		})
	}
	return rows
}

func writeProviders(out io.Writer, format string, rows []providerRow) error {
	switch format {
	case "", "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tTYPE\tMODEL\tACTIVE\tAVAILABLE\tCIRCUIT\tSCORE")
		_, _ = fmt.Fprintln(w, "----\t----\t-----\t------\t---------\t-------\t-----")
		for _, r := range rows {
			active := ""
			if r.Active {
				active = "*"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%d\n",
				r.Name, r.Type, r.Model, active, r.Available, r.CircuitState, r.HealthScore)
		}
		return w.Flush()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown format %q (use table, yaml, json)", format)
	}
}

func init() {
	providersCmd.Flags().String("format", "table", "output format: table, yaml, json")
	rootCmd.AddCommand(providersCmd)
}
