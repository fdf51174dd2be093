package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sophia-ai/sophia/pkg/budget"
)

func newBudgetCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect per-user spend budgets",
	}

	var userID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !rt.cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			enforcer := budget.New(rt.cfg.Budget.Policies, rt.ledger)

			statuses, err := enforcer.Status(context.Background(), userID)
			if err != nil {
				return err
			}

			if len(statuses) == 0 {
				fmt.Println("No budget policies found for this user.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tMODEL\tPERIOD\tMAX TOKENS\tUSED\tMAX COST\tSPENT")
			for _, s := range statuses {
				model := s.Policy.Model
				if model == "" {
					model = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t$%.2f\t$%.4f\n",
					s.Policy.UserID, model, s.Policy.Period,
					s.Policy.MaxTokens, s.UsedTokens, s.Policy.MaxCost, s.UsedCost)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVarP(&userID, "user", "u", "*", "user id to report on")

	cmd.AddCommand(statusCmd)
	return cmd
}
