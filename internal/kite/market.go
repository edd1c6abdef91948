package kite

import (
	"context"
	"net/url"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/sabarim/kitectl/internal/apierr"
)

// Profile returns the logged-in user's profile.
func (c *Client) Profile(ctx context.Context) (kiteconnect.UserProfile, error) {
	return Do[kiteconnect.UserProfile](ctx, c, get("/user/profile", nil))
}

// Quote returns full market quotes keyed by "EXCHANGE:SYMBOL".
func (c *Client) Quote(ctx context.Context, instruments ...string) (kiteconnect.Quote, error) {
	q, err := instrumentQuery(instruments)
	if err != nil {
		return nil, err
	}
	return Do[kiteconnect.Quote](ctx, c, get("/quote", q))
}

// LTP returns last traded prices keyed by "EXCHANGE:SYMBOL".
func (c *Client) LTP(ctx context.Context, instruments ...string) (kiteconnect.QuoteLTP, error) {
	q, err := instrumentQuery(instruments)
	if err != nil {
		return nil, err
	}
	return Do[kiteconnect.QuoteLTP](ctx, c, get("/quote/ltp", q))
}

// OHLC returns the day's open, high, low and close keyed by "EXCHANGE:SYMBOL".
func (c *Client) OHLC(ctx context.Context, instruments ...string) (kiteconnect.QuoteOHLC, error) {
	q, err := instrumentQuery(instruments)
	if err != nil {
		return nil, err
	}
	return Do[kiteconnect.QuoteOHLC](ctx, c, get("/quote/ohlc", q))
}

// Upstream caps a quote call at 500 instruments.
const maxQuoteInstruments = 500

func instrumentQuery(instruments []string) (url.Values, error) {
	if len(instruments) == 0 {
		return nil, apierr.New(apierr.KindValidation, "at least one instrument is required")
	}
	if len(instruments) > maxQuoteInstruments {
		return nil, apierr.New(apierr.KindValidation, "at most %d instruments per request, got %d", maxQuoteInstruments, len(instruments))
	}
	return url.Values{"i": instruments}, nil
}
