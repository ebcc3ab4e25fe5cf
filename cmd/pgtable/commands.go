package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/koustreak/pgtable/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Resolve the table and serve it over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		return server.New(a.table, a.cfg.Server, a.log).ListenAndServe(ctx)
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Resolve the table and print its row count",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		n, err := a.table.RowCount(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(map[string]int64{"count": n})
	},
}

var getCmd = &cobra.Command{
	Use:   "get [pk]",
	Short: "Print the row with the given primary key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		rec, err := a.table.Get(cmd.Context(), parseKey(args[0]))
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph [pk]",
	Short: "Print the row with the given primary key and every row it points to, transitively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		rs, err := a.table.Graph(cmd.Context(), parseKey(args[0]))
		if err != nil {
			return err
		}
		return printJSON(a.table.Records(rs))
	},
}

func parseKey(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
