package kite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/sabarim/kitectl/internal/apierr"
)

// GTT trigger types.
const (
	GTTSingle = "single"
	GTTOCO    = "two-leg"
)

// GTTParams describes a GTT trigger to create or replace. A single trigger has one trigger
// value and one order; a two-leg (OCO) trigger has two of each, stop-loss first.
type GTTParams struct {
	Type          string
	Exchange      string
	TradingSymbol string
	LastPrice     float64
	TriggerValues []float64
	Orders        []GTTOrder
}

// GTTOrder is the order placed when a trigger fires.
type GTTOrder struct {
	TransactionType string  `json:"transaction_type"`
	Quantity        int     `json:"quantity"`
	OrderType       string  `json:"order_type"`
	Product         string  `json:"product"`
	Price           float64 `json:"price"`
}

type gttCondition struct {
	Exchange      string    `json:"exchange"`
	TradingSymbol string    `json:"tradingsymbol"`
	TriggerValues []float64 `json:"trigger_values"`
	LastPrice     float64   `json:"last_price"`
}

type gttOrderWire struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"tradingsymbol"`
	GTTOrder
}

func (p GTTParams) form() (url.Values, error) {
	want := 0
	switch p.Type {
	case GTTSingle:
		want = 1
	case GTTOCO:
		want = 2
	default:
		return nil, apierr.New(apierr.KindValidation, "unknown GTT type %q (want %s or %s)", p.Type, GTTSingle, GTTOCO)
	}
	if err := required("exchange", p.Exchange); err != nil {
		return nil, err
	}
	if err := required("tradingsymbol", p.TradingSymbol); err != nil {
		return nil, err
	}
	if len(p.TriggerValues) != want || len(p.Orders) != want {
		return nil, apierr.New(apierr.KindValidation, "%s GTT needs %d trigger value(s) and %d order(s), got %d and %d",
			p.Type, want, want, len(p.TriggerValues), len(p.Orders))
	}

	condition, err := json.Marshal(gttCondition{
		Exchange:      p.Exchange,
		TradingSymbol: p.TradingSymbol,
		TriggerValues: p.TriggerValues,
		LastPrice:     p.LastPrice,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "encode GTT condition")
	}

	wire := make([]gttOrderWire, len(p.Orders))
	for i, o := range p.Orders {
		wire[i] = gttOrderWire{Exchange: p.Exchange, TradingSymbol: p.TradingSymbol, GTTOrder: o}
	}
	orders, err := json.Marshal(wire)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "encode GTT orders")
	}

	return url.Values{
		"type":      {p.Type},
		"condition": {string(condition)},
		"orders":    {string(orders)},
	}, nil
}

// GTTs lists the GTT triggers of the account.
func (c *Client) GTTs(ctx context.Context) (kiteconnect.GTTs, error) {
	return Do[kiteconnect.GTTs](ctx, c, get("/gtt/triggers", nil))
}

// GTT returns one trigger.
func (c *Client) GTT(ctx context.Context, triggerID int) (kiteconnect.GTT, error) {
	return Do[kiteconnect.GTT](ctx, c, get(gttPath(triggerID), nil))
}

// PlaceGTT creates a trigger.
func (c *Client) PlaceGTT(ctx context.Context, params GTTParams) (kiteconnect.GTTResponse, error) {
	form, err := params.form()
	if err != nil {
		return kiteconnect.GTTResponse{}, err
	}
	return Do[kiteconnect.GTTResponse](ctx, c, send(http.MethodPost, "/gtt/triggers", form))
}

// ModifyGTT replaces the condition and orders of a trigger.
func (c *Client) ModifyGTT(ctx context.Context, triggerID int, params GTTParams) (kiteconnect.GTTResponse, error) {
	form, err := params.form()
	if err != nil {
		return kiteconnect.GTTResponse{}, err
	}
	return Do[kiteconnect.GTTResponse](ctx, c, send(http.MethodPut, gttPath(triggerID), form))
}

// DeleteGTT removes a trigger.
func (c *Client) DeleteGTT(ctx context.Context, triggerID int) (kiteconnect.GTTResponse, error) {
	return Do[kiteconnect.GTTResponse](ctx, c, send(http.MethodDelete, gttPath(triggerID), nil))
}

func gttPath(triggerID int) string {
	return "/gtt/triggers/" + strconv.Itoa(triggerID)
}
