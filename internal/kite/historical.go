package kite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sabarim/kitectl/internal/apierr"
)

// Candle intervals accepted by HistoricalData.
var Intervals = []string{
	"minute", "3minute", "5minute", "10minute", "15minute", "30minute", "60minute", "day",
}

const (
	historicalQueryLayout = "2006-01-02 15:04:05"
	candleTimeLayout      = "2006-01-02T15:04:05-0700"
)

// HistoricalParams selects a candle series.
type HistoricalParams struct {
	InstrumentToken int64
	Interval        string
	From            time.Time
	To              time.Time
	Continuous      bool
	OI              bool
}

// Candle is one OHLCV bar. OI is set only when requested.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	OI        int64     `json:"oi,omitempty"`
}

// UnmarshalJSON decodes the upstream array form [time, open, high, low, close, volume, oi?].
func (c *Candle) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) < 6 {
		return fmt.Errorf("candle has %d fields, want at least 6", len(raw))
	}

	var ts string
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("candle timestamp: %w", err)
	}
	t, err := time.Parse(candleTimeLayout, ts)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, ts); err != nil {
			return fmt.Errorf("candle timestamp %q: %w", ts, err)
		}
	}

	var vals [6]float64
	for i := 1; i < len(raw) && i <= 6; i++ {
		if err := json.Unmarshal(raw[i], &vals[i-1]); err != nil {
			return fmt.Errorf("candle field %d: %w", i, err)
		}
	}

	*c = Candle{
		Timestamp: t,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    int64(vals[4]),
		OI:        int64(vals[5]),
	}
	return nil
}

type candlesData struct {
	Candles []Candle `json:"candles"`
}

// HistoricalData returns candles for one instrument between From and To inclusive.
func (c *Client) HistoricalData(ctx context.Context, p HistoricalParams) ([]Candle, error) {
	if p.InstrumentToken <= 0 {
		return nil, apierr.New(apierr.KindValidation, "instrument token is required")
	}
	if !validInterval(p.Interval) {
		return nil, apierr.New(apierr.KindValidation, "invalid interval %q", p.Interval)
	}
	if p.From.IsZero() || p.To.IsZero() || p.To.Before(p.From) {
		return nil, apierr.New(apierr.KindValidation, "invalid date range %s to %s", p.From.Format(time.DateOnly), p.To.Format(time.DateOnly))
	}

	q := url.Values{
		"from": {p.From.Format(historicalQueryLayout)},
		"to":   {p.To.Format(historicalQueryLayout)},
	}
	if p.Continuous {
		q.Set("continuous", "1")
	}
	if p.OI {
		q.Set("oi", "1")
	}

	path := "/instruments/historical/" + strconv.FormatInt(p.InstrumentToken, 10) + "/" + p.Interval
	data, err := Do[candlesData](ctx, c, get(path, q))
	if err != nil {
		return nil, err
	}
	return data.Candles, nil
}

func validInterval(interval string) bool {
	for _, i := range Intervals {
		if i == interval {
			return true
		}
	}
	return false
}
