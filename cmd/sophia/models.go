package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sophia-ai/sophia/pkg/catalog"
	"github.com/sophia-ai/sophia/pkg/config"
)

func newModelsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog and pricing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\t$/1M TOKENS\tCONTEXT")
			for _, m := range catalog.New(cfg.Catalog).Models() {
				fmt.Fprintf(w, "%s\t%.2f\t%s\n", m.Name, m.CostPerMillionTokens, humanize.Comma(int64(m.ContextWindow)))
			}
			return w.Flush()
		},
	}
}
