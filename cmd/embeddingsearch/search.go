package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func searchCmd(configPath *string, debug *bool) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <searchdomain> <text>",
		Short: "Run a one-shot query and print the ranked entities",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, db, _, _, err := newService(*configPath, *debug)
			if err != nil {
				return err
			}
			defer db.Close()

			started := time.Now()
			results, err := service.EntityQuery(context.Background(), args[0], args[1], limit)
			if err != nil {
				return err
			}
			for i, r := range results {
				fmt.Printf("%3d. %.4f  %s\n", i+1, r.Score, r.Name)
			}
			fmt.Printf("%d results in %s\n", len(results), time.Since(started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results (0 = all)")
	return cmd
}
