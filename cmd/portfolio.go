package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sabarim/kitectl/internal/kite"
)

func newPortfolioCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show holdings and positions",
	}

	holdings := &cobra.Command{
		Use:   "holdings",
		Short: "List long-term holdings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.client.Holdings(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(h)
		},
	}

	positions := &cobra.Command{
		Use:   "positions",
		Short: "List net and day positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.Positions(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(p)
		},
	}

	var p kite.ConvertPositionParams
	convert := &cobra.Command{
		Use:   "convert",
		Short: "Convert a position between products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := p
			params.Exchange = strings.ToUpper(params.Exchange)
			params.TradingSymbol = strings.ToUpper(params.TradingSymbol)
			params.OldProduct = strings.ToUpper(params.OldProduct)
			params.NewProduct = strings.ToUpper(params.NewProduct)
			params.TransactionType = strings.ToUpper(params.TransactionType)
			params.PositionType = strings.ToLower(params.PositionType)

			ok, err := a.client.ConvertPosition(cmd.Context(), params)
			if err != nil {
				return err
			}
			return a.print(map[string]bool{"converted": ok})
		},
	}
	convert.Flags().StringVar(&p.Exchange, "exchange", "NSE", "Exchange")
	convert.Flags().StringVar(&p.TradingSymbol, "symbol", "", "Trading symbol")
	convert.Flags().StringVar(&p.OldProduct, "from", "", "Current product (MIS, CNC, NRML)")
	convert.Flags().StringVar(&p.NewProduct, "to", "", "Target product (MIS, CNC, NRML)")
	convert.Flags().StringVar(&p.PositionType, "position-type", "day", "day or overnight")
	convert.Flags().StringVar(&p.TransactionType, "side", "", "BUY or SELL")
	convert.Flags().IntVar(&p.Quantity, "qty", 0, "Quantity")
	for _, f := range []string{"symbol", "from", "to", "side", "qty"} {
		convert.MarkFlagRequired(f)
	}

	cmd.AddCommand(holdings, positions, convert)
	return cmd
}

func newMarginsCmd(a *app) *cobra.Command {
	var segment string
	cmd := &cobra.Command{
		Use:   "margins",
		Short: "Show funds and margins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if segment != "" {
				m, err := a.client.SegmentMargins(cmd.Context(), strings.ToLower(segment))
				if err != nil {
					return err
				}
				return a.print(m)
			}
			m, err := a.client.Margins(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(m)
		},
	}
	cmd.Flags().StringVar(&segment, "segment", "", "Only this segment (equity or commodity)")
	return cmd
}
