package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sabarim/kitectl/internal/apierr"
	"github.com/sabarim/kitectl/internal/kite"
)

type gttFlags struct {
	gttType   string
	exchange  string
	symbol    string
	lastPrice float64
	triggers  []float64
	prices    []float64
	side      string
	quantity  int
	orderType string
	product   string
}

func (f *gttFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.gttType, "type", kite.GTTSingle, "Trigger type (single or two-leg)")
	cmd.Flags().StringVar(&f.exchange, "exchange", "NSE", "Exchange")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Trading symbol")
	cmd.Flags().Float64Var(&f.lastPrice, "last-price", 0, "Current price of the instrument")
	cmd.Flags().Float64SliceVar(&f.triggers, "trigger", nil, "Trigger value(s); two for two-leg, stop-loss first")
	cmd.Flags().Float64SliceVar(&f.prices, "price", nil, "Limit price per leg; defaults to the trigger values")
	cmd.Flags().StringVar(&f.side, "side", "", "BUY or SELL")
	cmd.Flags().IntVar(&f.quantity, "qty", 0, "Quantity per leg")
	cmd.Flags().StringVar(&f.orderType, "order-type", "LIMIT", "Order type of each leg")
	cmd.Flags().StringVar(&f.product, "product", "CNC", "Product of each leg")
	for _, name := range []string{"symbol", "last-price", "trigger", "side", "qty"} {
		cmd.MarkFlagRequired(name)
	}
}

func (f *gttFlags) params() (kite.GTTParams, error) {
	prices := f.prices
	if len(prices) == 0 {
		prices = f.triggers
	}
	if len(prices) != len(f.triggers) {
		return kite.GTTParams{}, apierr.New(apierr.KindValidation, "got %d price(s) for %d trigger(s)", len(prices), len(f.triggers))
	}

	orders := make([]kite.GTTOrder, len(f.triggers))
	for i := range f.triggers {
		orders[i] = kite.GTTOrder{
			TransactionType: strings.ToUpper(f.side),
			Quantity:        f.quantity,
			OrderType:       strings.ToUpper(f.orderType),
			Product:         strings.ToUpper(f.product),
			Price:           prices[i],
		}
	}
	return kite.GTTParams{
		Type:          strings.ToLower(f.gttType),
		Exchange:      strings.ToUpper(f.exchange),
		TradingSymbol: strings.ToUpper(f.symbol),
		LastPrice:     f.lastPrice,
		TriggerValues: f.triggers,
		Orders:        orders,
	}, nil
}

func parseTriggerID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, apierr.New(apierr.KindValidation, "invalid trigger id %q", s)
	}
	return id, nil
}

func newGTTCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gtt",
		Short: "Manage good-till-triggered orders",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List GTT triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.client.GTTs(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(g)
		},
	}

	get := &cobra.Command{
		Use:   "get TRIGGER_ID",
		Short: "Show one GTT trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTriggerID(args[0])
			if err != nil {
				return err
			}
			g, err := a.client.GTT(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(g)
		},
	}

	createFlags := &gttFlags{}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a GTT trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := createFlags.params()
			if err != nil {
				return err
			}
			resp, err := a.client.PlaceGTT(cmd.Context(), params)
			if err != nil {
				return err
			}
			return a.print(resp)
		},
	}
	createFlags.register(create)

	modifyFlags := &gttFlags{}
	modify := &cobra.Command{
		Use:   "modify TRIGGER_ID",
		Short: "Replace the condition and orders of a GTT trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTriggerID(args[0])
			if err != nil {
				return err
			}
			params, err := modifyFlags.params()
			if err != nil {
				return err
			}
			resp, err := a.client.ModifyGTT(cmd.Context(), id, params)
			if err != nil {
				return err
			}
			return a.print(resp)
		},
	}
	modifyFlags.register(modify)

	del := &cobra.Command{
		Use:   "delete TRIGGER_ID",
		Short: "Delete a GTT trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTriggerID(args[0])
			if err != nil {
				return err
			}
			resp, err := a.client.DeleteGTT(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(resp)
		},
	}

	cmd.AddCommand(list, get, create, modify, del)
	return cmd
}
