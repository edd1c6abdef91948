package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newInstrumentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "Query and manage the local instrument cache",
	}

	var refresh bool
	var limit int
	list := &cobra.Command{
		Use:   "list EXCHANGE",
		Short: "List instruments of an exchange, downloading them when the cache is stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.cache.ListOrFetch(cmd.Context(), args[0], refresh)
			if err != nil {
				return err
			}
			if limit > 0 && len(list) > limit {
				list = list[:limit]
			}
			return a.print(list)
		},
	}
	list.Flags().BoolVar(&refresh, "refresh", false, "Download even when the cache is fresh")
	list.Flags().IntVar(&limit, "limit", 0, "Print at most this many instruments")

	var searchLimit int
	search := &cobra.Command{
		Use:   "search EXCHANGE QUERY",
		Short: "Find instruments whose symbol or name contains QUERY",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := a.cache.Search(cmd.Context(), args[0], strings.Join(args[1:], " "), searchLimit)
			if err != nil {
				return err
			}
			return a.print(matches)
		},
	}
	search.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of matches")

	get := &cobra.Command{
		Use:   "get EXCHANGE SYMBOL",
		Short: "Show one instrument",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := a.cache.Lookup(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(inst)
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh EXCHANGE...",
		Short: "Download fresh instrument lists",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			counts := make(map[string]int, len(args))
			for _, exchange := range args {
				list, err := a.cache.Refresh(cmd.Context(), exchange)
				if err != nil {
					return err
				}
				counts[strings.ToUpper(exchange)] = len(list)
			}
			return a.print(counts)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached instrument file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.cache.Clear()
			if err != nil {
				return err
			}
			return a.print(map[string]int{"removed": n})
		},
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show cache location, files and sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.cache.Info()
			if err != nil {
				return err
			}
			type file struct {
				Exchange string `json:"exchange"`
				Day      string `json:"day"`
				Size     int64  `json:"size"`
				Modified string `json:"modified"`
				Fresh    bool   `json:"fresh"`
			}
			files := make([]file, 0, len(info.Files))
			for _, f := range info.Files {
				files = append(files, file{
					Exchange: f.Exchange,
					Day:      f.Day,
					Size:     f.Size,
					Modified: f.Modified.Format(time.RFC3339),
					Fresh:    a.cache.IsValid(f.Exchange),
				})
			}
			return a.print(map[string]any{"dir": info.Dir, "files": files, "total_size": info.TotalSize})
		},
	}

	export := &cobra.Command{
		Use:   "export EXCHANGE PATH",
		Short: "Write the instrument list of an exchange to a Parquet file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.cache.ExportParquet(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(map[string]any{"path": args[1], "rows": n})
		},
	}

	cmd.AddCommand(list, search, get, refreshCmd, clearCmd, info, export)
	return cmd
}
