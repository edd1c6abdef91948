package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// newQuoteCmds builds quote, ltp and ohlc. Instruments are given as EXCHANGE:SYMBOL; a bare
// symbol defaults to NSE.
func newQuoteCmds(a *app) []*cobra.Command {
	quote := &cobra.Command{
		Use:   "quote EXCHANGE:SYMBOL...",
		Short: "Show full market quotes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.client.Quote(cmd.Context(), qualify(args)...)
			if err != nil {
				return err
			}
			return a.print(q)
		},
	}

	ltp := &cobra.Command{
		Use:   "ltp EXCHANGE:SYMBOL...",
		Short: "Show last traded prices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.client.LTP(cmd.Context(), qualify(args)...)
			if err != nil {
				return err
			}
			return a.print(q)
		},
	}

	ohlc := &cobra.Command{
		Use:   "ohlc EXCHANGE:SYMBOL...",
		Short: "Show open, high, low and close",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.client.OHLC(cmd.Context(), qualify(args)...)
			if err != nil {
				return err
			}
			return a.print(q)
		},
	}

	return []*cobra.Command{quote, ltp, ohlc}
}

func qualify(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		for _, part := range strings.Split(s, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if !strings.Contains(part, ":") {
				part = "NSE:" + part
			}
			out = append(out, part)
		}
	}
	return out
}
