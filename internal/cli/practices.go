package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/dxscan/internal/practice"
)

func newPracticesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "practices",
		Short: "List the practices dxscan can evaluate",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := practice.DefaultRegistry.Catalog(nil)
			if err != nil {
				return err
			}

			if asJSON {
				metas := make([]practice.Metadata, 0, len(catalog))
				for _, p := range catalog {
					metas = append(metas, p.Metadata())
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(metas)
			}

			for _, p := range catalog {
				md := p.Metadata()
				scope := "component"
				if md.ReportOnlyOnce {
					scope = "project"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-42s %-7s %-9s %s\n", md.ID, md.Impact, scope, md.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Print practice metadata as JSON")

	return cmd
}
