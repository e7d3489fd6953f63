package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/memoria/internal/app"
)

var memorialsJSON bool

var memorialsCmd = &cobra.Command{
	Use:   "memorials",
	Short: "List the memorial catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, pool, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}
		list, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if memorialsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tRELATION\tYEARS\tVOICE\tSTATUS")
		for _, m := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Relation, m.Years, m.Voice(), m.Status)
		}
		return tw.Flush()
	},
}

func init() {
	memorialsCmd.Flags().BoolVar(&memorialsJSON, "json", false, "print JSON instead of a table")
}
