package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newScenariosCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the practice scenarios in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			scenarios := cat.List()
			out := cmd.OutOrStdout()
			if a.jsonOut {
				return writeJSON(out, scenarios)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tPASS\tMISSIONS")
			for _, s := range scenarios {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", s.ID, s.Title, s.PassingThreshold(), len(s.Missions))
			}
			return tw.Flush()
		},
	}
}
