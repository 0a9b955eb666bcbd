package main

import (
	"fmt"
	"os"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [key...]",
	Short: "Reads keys and prints client metrics",
	Long: `Reads the given keys, then prints client, pool and server metrics in
the Prometheus text format. Without keys, a single probe key is read to
open a connection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"bincache:probe"}
		}
		for _, key := range args {
			ctx, cancel := commandContext()
			_, err := client.Get(ctx, key)
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "get %s: %v\n", key, err)
			}
		}
		return writeMetrics()
	},
}

func writeMetrics() error {
	set := metrics.NewSet()
	client.RegisterMetrics(set)
	set.WritePrometheus(os.Stdout)
	return nil
}
