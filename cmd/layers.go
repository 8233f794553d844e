package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/overlap-cli/internal/layer"
	"github.com/sells-group/overlap-cli/internal/source"
)

// layerSummary describes one opened dataset.
type layerSummary struct {
	Role     string
	Driver   string
	Name     string
	SRS      string
	Features int
	Fields   []layer.Field
}

func summarize(role, driver string, acc *layer.Accessor) layerSummary {
	s := layerSummary{
		Role:     role,
		Driver:   driver,
		Name:     acc.Name(),
		SRS:      "<none>",
		Features: acc.Len(),
		Fields:   acc.Fields(),
	}
	if srs, ok := acc.NativeSRS(); ok {
		s.SRS = srs.String()
	}
	return s
}

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Summarize the configured datasets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}
		opener := newOpener(pool)

		var summaries []layerSummary
		for _, d := range datasets(cfg) {
			driver, err := source.DriverFor(d.Dataset)
			if err != nil {
				return err
			}
			acc, err := loadDataset(ctx, opener, d.Dataset)
			if err != nil {
				return err
			}
			summaries = append(summaries, summarize(d.Role, driver, acc))
			_ = acc.Close()
		}

		formatLayers(os.Stdout, summaries)
		return nil
	},
}

// formatLayers writes a tabular dataset summary to w.
func formatLayers(out io.Writer, summaries []layerSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROLE\tDRIVER\tNAME\tSRS\tFEATURES\tFIELDS")
	_, _ = fmt.Fprintln(w, "----\t------\t----\t---\t--------\t------")

	for _, s := range summaries {
		names := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			names[i] = f.Name
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.Role,
			s.Driver,
			s.Name,
			s.SRS,
			s.Features,
			strings.Join(names, ","),
		)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(layersCmd)
}
