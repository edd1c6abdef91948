package kite

import (
	"context"
	"net/http"
	"net/url"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// Orders returns the day's orders.
func (c *Client) Orders(ctx context.Context) (kiteconnect.Orders, error) {
	return Do[kiteconnect.Orders](ctx, c, get("/orders", nil))
}

// OrderHistory returns every state transition of one order.
func (c *Client) OrderHistory(ctx context.Context, orderID string) ([]kiteconnect.Order, error) {
	if err := required("order id", orderID); err != nil {
		return nil, err
	}
	return Do[[]kiteconnect.Order](ctx, c, get("/orders/"+url.PathEscape(orderID), nil))
}

// PlaceOrder places an order of the given variety; an empty variety means regular.
func (c *Client) PlaceOrder(ctx context.Context, variety string, params kiteconnect.OrderParams) (kiteconnect.OrderResponse, error) {
	if variety == "" {
		variety = kiteconnect.VarietyRegular
	}
	if err := required("exchange", params.Exchange); err != nil {
		return kiteconnect.OrderResponse{}, err
	}
	if err := required("tradingsymbol", params.Tradingsymbol); err != nil {
		return kiteconnect.OrderResponse{}, err
	}
	form, err := encodeForm(params)
	if err != nil {
		return kiteconnect.OrderResponse{}, err
	}
	return Do[kiteconnect.OrderResponse](ctx, c, send(http.MethodPost, "/orders/"+url.PathEscape(variety), form))
}

// ModifyOrder changes a pending order. Only the non-zero fields of params are sent.
func (c *Client) ModifyOrder(ctx context.Context, variety, orderID string, params kiteconnect.OrderParams) (kiteconnect.OrderResponse, error) {
	if variety == "" {
		variety = kiteconnect.VarietyRegular
	}
	if err := required("order id", orderID); err != nil {
		return kiteconnect.OrderResponse{}, err
	}
	form, err := encodeForm(params)
	if err != nil {
		return kiteconnect.OrderResponse{}, err
	}
	path := "/orders/" + url.PathEscape(variety) + "/" + url.PathEscape(orderID)
	return Do[kiteconnect.OrderResponse](ctx, c, send(http.MethodPut, path, form))
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, variety, orderID string) (kiteconnect.OrderResponse, error) {
	if variety == "" {
		variety = kiteconnect.VarietyRegular
	}
	if err := required("order id", orderID); err != nil {
		return kiteconnect.OrderResponse{}, err
	}
	path := "/orders/" + url.PathEscape(variety) + "/" + url.PathEscape(orderID)
	return Do[kiteconnect.OrderResponse](ctx, c, send(http.MethodDelete, path, nil))
}

// Trades returns the day's executed trades.
func (c *Client) Trades(ctx context.Context) (kiteconnect.Trades, error) {
	return Do[kiteconnect.Trades](ctx, c, get("/trades", nil))
}

// OrderTrades returns the trades generated by one order.
func (c *Client) OrderTrades(ctx context.Context, orderID string) (kiteconnect.Trades, error) {
	if err := required("order id", orderID); err != nil {
		return nil, err
	}
	return Do[kiteconnect.Trades](ctx, c, get("/orders/"+url.PathEscape(orderID)+"/trades", nil))
}
