package main

import (
	"strings"

	"github.com/spf13/cobra"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

type orderFlags struct {
	variety      string
	exchange     string
	symbol       string
	side         string
	orderType    string
	product      string
	validity     string
	quantity     int
	disclosed    int
	price        float64
	triggerPrice float64
	tag          string
}

func (f *orderFlags) register(cmd *cobra.Command, full bool) {
	cmd.Flags().StringVar(&f.variety, "variety", kiteconnect.VarietyRegular, "Order variety (regular, amo, co, iceberg, auction)")
	cmd.Flags().StringVar(&f.orderType, "type", "", "Order type (MARKET, LIMIT, SL, SL-M)")
	cmd.Flags().StringVar(&f.validity, "validity", "", "Validity (DAY, IOC, TTL)")
	cmd.Flags().IntVar(&f.quantity, "qty", 0, "Quantity")
	cmd.Flags().IntVar(&f.disclosed, "disclosed-qty", 0, "Disclosed quantity")
	cmd.Flags().Float64Var(&f.price, "price", 0, "Limit price")
	cmd.Flags().Float64Var(&f.triggerPrice, "trigger-price", 0, "Trigger price for SL orders")
	if full {
		cmd.Flags().StringVar(&f.exchange, "exchange", "NSE", "Exchange")
		cmd.Flags().StringVar(&f.symbol, "symbol", "", "Trading symbol")
		cmd.Flags().StringVar(&f.side, "side", "", "BUY or SELL")
		cmd.Flags().StringVar(&f.product, "product", "CNC", "Product (CNC, MIS, NRML)")
		cmd.Flags().StringVar(&f.tag, "tag", "", "Optional order tag")
		cmd.MarkFlagRequired("symbol")
		cmd.MarkFlagRequired("side")
		cmd.MarkFlagRequired("qty")
	}
}

func (f *orderFlags) params() kiteconnect.OrderParams {
	orderType := strings.ToUpper(f.orderType)
	if orderType == "" && f.symbol != "" {
		orderType = "MARKET"
		if f.price > 0 {
			orderType = "LIMIT"
		}
	}
	validity := strings.ToUpper(f.validity)
	if validity == "" && f.symbol != "" {
		validity = kiteconnect.ValidityDay
	}
	return kiteconnect.OrderParams{
		Exchange:          strings.ToUpper(f.exchange),
		Tradingsymbol:     strings.ToUpper(f.symbol),
		Validity:          validity,
		Product:           strings.ToUpper(f.product),
		OrderType:         orderType,
		TransactionType:   strings.ToUpper(f.side),
		Quantity:          f.quantity,
		DisclosedQuantity: f.disclosed,
		Price:             f.price,
		TriggerPrice:      f.triggerPrice,
		Tag:               f.tag,
	}
}

func newOrdersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List, place, modify and cancel orders",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the day's orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := a.client.Orders(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(orders)
		},
	}

	history := &cobra.Command{
		Use:   "history ORDER_ID",
		Short: "Show the state history of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.client.OrderHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(h)
		},
	}

	trades := &cobra.Command{
		Use:   "trades [ORDER_ID]",
		Short: "List the day's trades, or the trades of one order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t kiteconnect.Trades
			var err error
			if len(args) == 1 {
				t, err = a.client.OrderTrades(cmd.Context(), args[0])
			} else {
				t, err = a.client.Trades(cmd.Context())
			}
			if err != nil {
				return err
			}
			return a.print(t)
		},
	}

	placeFlags := &orderFlags{}
	place := &cobra.Command{
		Use:   "place",
		Short: "Place an order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.PlaceOrder(cmd.Context(), placeFlags.variety, placeFlags.params())
			if err != nil {
				return err
			}
			return a.print(resp)
		},
	}
	placeFlags.register(place, true)

	modifyFlags := &orderFlags{}
	modify := &cobra.Command{
		Use:   "modify ORDER_ID",
		Short: "Modify a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.ModifyOrder(cmd.Context(), modifyFlags.variety, args[0], modifyFlags.params())
			if err != nil {
				return err
			}
			return a.print(resp)
		},
	}
	modifyFlags.register(modify, false)

	var cancelVariety string
	cancel := &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.CancelOrder(cmd.Context(), cancelVariety, args[0])
			if err != nil {
				return err
			}
			return a.print(resp)
		},
	}
	cancel.Flags().StringVar(&cancelVariety, "variety", kiteconnect.VarietyRegular, "Order variety")

	cmd.AddCommand(list, history, trades, place, modify, cancel)
	return cmd
}
