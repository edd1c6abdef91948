package kite

import (
	"context"
	"net/http"
	"net/url"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/sabarim/kitectl/internal/apierr"
)

// ConvertPositionParams describes a product conversion of an open position.
type ConvertPositionParams struct {
	Exchange        string `url:"exchange"`
	TradingSymbol   string `url:"tradingsymbol"`
	OldProduct      string `url:"old_product"`
	NewProduct      string `url:"new_product"`
	PositionType    string `url:"position_type"`
	TransactionType string `url:"transaction_type"`
	Quantity        int    `url:"quantity"`
}

// Segments accepted by SegmentMargins.
const (
	SegmentEquity    = "equity"
	SegmentCommodity = "commodity"
)

// Holdings returns long-term equity holdings.
func (c *Client) Holdings(ctx context.Context) (kiteconnect.Holdings, error) {
	return Do[kiteconnect.Holdings](ctx, c, get("/portfolio/holdings", nil))
}

// Positions returns the net and day positions.
func (c *Client) Positions(ctx context.Context) (kiteconnect.Positions, error) {
	return Do[kiteconnect.Positions](ctx, c, get("/portfolio/positions", nil))
}

// ConvertPosition converts an open position from one product to another.
func (c *Client) ConvertPosition(ctx context.Context, params ConvertPositionParams) (bool, error) {
	if err := required("tradingsymbol", params.TradingSymbol); err != nil {
		return false, err
	}
	if params.Quantity <= 0 {
		return false, apierr.New(apierr.KindValidation, "quantity must be positive")
	}
	form, err := encodeForm(params)
	if err != nil {
		return false, err
	}
	return Do[bool](ctx, c, send(http.MethodPut, "/portfolio/positions", form))
}

// Margins returns funds and margins for every segment.
func (c *Client) Margins(ctx context.Context) (kiteconnect.AllMargins, error) {
	return Do[kiteconnect.AllMargins](ctx, c, get("/user/margins", nil))
}

// SegmentMargins returns funds and margins for one segment.
func (c *Client) SegmentMargins(ctx context.Context, segment string) (kiteconnect.Margins, error) {
	if segment != SegmentEquity && segment != SegmentCommodity {
		return kiteconnect.Margins{}, apierr.New(apierr.KindValidation, "unknown segment %q (want %s or %s)", segment, SegmentEquity, SegmentCommodity)
	}
	return Do[kiteconnect.Margins](ctx, c, get("/user/margins/"+url.PathEscape(segment), nil))
}
