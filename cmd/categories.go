package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/overlap-cli/internal/layer"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the distinct values of a dataset field",
	Long:  "Lists the distinct values of a field, by default the protected-area category field. These are the categories a run reports.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		role, _ := cmd.Flags().GetString("dataset")
		field, _ := cmd.Flags().GetString("field")

		ds, err := datasetByRole(cfg, role)
		if err != nil {
			return err
		}
		if field == "" {
			field = ds.Field
		}
		if field == "" {
			return eris.Errorf("no field configured for the %s dataset; pass --field", role)
		}

		pool, err := initPool(ctx)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}

		acc, err := loadDataset(ctx, newOpener(pool), ds)
		if err != nil {
			return err
		}
		defer acc.Close() //nolint:errcheck

		if !acc.HasField(field) {
			return eris.Errorf("%s has no field %q", acc.Name(), field)
		}
		formatValues(os.Stdout, acc.DistinctValues(field))
		return nil
	},
}

// formatValues writes one value per line; null is rendered as <null>.
func formatValues(w io.Writer, values []layer.Value) {
	for _, v := range values {
		_, _ = fmt.Fprintln(w, v.String())
	}
}

func init() {
	categoriesCmd.Flags().String("dataset", "protected_areas", "dataset to inspect (admin, biodiversity, protected_areas)")
	categoriesCmd.Flags().String("field", "", "field to list (default: the dataset's configured field)")
	rootCmd.AddCommand(categoriesCmd)
}
