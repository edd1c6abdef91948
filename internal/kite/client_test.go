package kite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/sabarim/kitectl/internal/apierr"
	"github.com/sabarim/kitectl/internal/auth"
	"github.com/sabarim/kitectl/internal/ratelimit"
	"github.com/sabarim/kitectl/internal/transport"
)

type nopStore struct{}

func (nopStore) SaveSession(auth.Session) error { return nil }

type testEnv struct {
	client *Client
	auth   *auth.AuthManager
	hits   *int32
}

func newTestEnv(t *testing.T, session auth.Session, handler http.HandlerFunc) testEnv {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	exec := transport.NewExecutor(ratelimit.New(100, 100), transport.Options{
		BaseURL:    server.URL,
		MaxRetries: 0,
		RetryWait:  time.Millisecond,
	}, zerolog.Nop())
	am := auth.NewAuthManager(auth.Credentials{APIKey: "key", APISecret: "secret"}, session, exec, nopStore{}, zerolog.Nop())

	return testEnv{client: NewClient(exec, am, zerolog.Nop()), auth: am, hits: &hits}
}

func validSession() auth.Session {
	return auth.Session{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}
}

func success(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

func TestAuthenticatedCallWithoutSessionMakesNoNetworkCall(t *testing.T) {
	env := newTestEnv(t, auth.Session{}, func(w http.ResponseWriter, r *http.Request) {
		success(w, map[string]any{})
	})

	_, err := env.client.Holdings(context.Background())

	assert.True(t, errors.Is(err, apierr.ErrAuth))
	assert.Zero(t, atomic.LoadInt32(env.hits))
}

func TestExpiredSessionMakesNoNetworkCall(t *testing.T) {
	env := newTestEnv(t, auth.Session{AccessToken: "tok", Expiry: time.Now().Add(-time.Minute)}, func(w http.ResponseWriter, r *http.Request) {
		success(w, map[string]any{})
	})

	_, err := env.client.Profile(context.Background())

	assert.Equal(t, apierr.KindAuth, apierr.KindOf(err))
	assert.Zero(t, atomic.LoadInt32(env.hits))
}

func TestUpstream429IsRateLimitErrorAndKeepsSession(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"status":"error","message":"Too many requests","error_type":"NetworkException"}`)
	})
	before := env.auth.Session()

	_, err := env.client.LTP(context.Background(), "NSE:INFY")

	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierr.KindRateLimit, apiErr.Kind)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, before, env.auth.Session())
	assert.Equal(t, auth.StateAuthenticated, env.auth.Status().State)
}

func TestLTP(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote/ltp", r.URL.Path)
		assert.Equal(t, []string{"NSE:INFY", "NSE:TCS"}, r.URL.Query()["i"])
		assert.Equal(t, "token key:tok", r.Header.Get("Authorization"))
		success(w, map[string]any{
			"NSE:INFY": map[string]any{"instrument_token": 408065, "last_price": 1500.5},
		})
	})

	ltp, err := env.client.LTP(context.Background(), "NSE:INFY", "NSE:TCS")

	require.NoError(t, err)
	assert.Equal(t, 1500.5, ltp["NSE:INFY"].LastPrice)
}

func TestQuoteRequiresInstruments(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {})

	_, err := env.client.Quote(context.Background())

	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Zero(t, atomic.LoadInt32(env.hits))
}

func TestPlaceOrderEncodesParams(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/regular", r.URL.Path)
		assert.Equal(t, "NSE", r.PostForm.Get("exchange"))
		assert.Equal(t, "INFY", r.PostForm.Get("tradingsymbol"))
		assert.Equal(t, "BUY", r.PostForm.Get("transaction_type"))
		assert.Equal(t, "10", r.PostForm.Get("quantity"))
		assert.Equal(t, "1500.5", r.PostForm.Get("price"))
		_, hasTrigger := r.PostForm["trigger_price"]
		assert.False(t, hasTrigger, "zero fields are omitted")
		success(w, map[string]any{"order_id": "151220000000000"})
	})

	resp, err := env.client.PlaceOrder(context.Background(), "", kiteconnect.OrderParams{
		Exchange:        "NSE",
		Tradingsymbol:   "INFY",
		TransactionType: "BUY",
		OrderType:       "LIMIT",
		Product:         "CNC",
		Quantity:        10,
		Price:           1500.5,
	})

	require.NoError(t, err)
	assert.Equal(t, "151220000000000", resp.OrderID)
}

func TestPlaceOrderIsNotRetried(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := env.client.PlaceOrder(context.Background(), "regular", kiteconnect.OrderParams{Exchange: "NSE", Tradingsymbol: "INFY"})

	assert.Equal(t, apierr.KindServer, apierr.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(env.hits))
}

func TestCancelOrderPath(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/orders/amo/42", r.URL.Path)
		success(w, map[string]any{"order_id": "42"})
	})

	resp, err := env.client.CancelOrder(context.Background(), "amo", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", resp.OrderID)

	_, err = env.client.CancelOrder(context.Background(), "amo", "")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestOrderHistoryAndTrades(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/42":
			success(w, []map[string]any{{"order_id": "42", "status": "OPEN"}, {"order_id": "42", "status": "COMPLETE"}})
		case "/orders/42/trades":
			success(w, []map[string]any{{"order_id": "42", "trade_id": "T1"}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	history, err := env.client.OrderHistory(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "COMPLETE", history[1].Status)

	trades, err := env.client.OrderTrades(context.Background(), "42")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestPositionsAndMargins(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/positions":
			success(w, map[string]any{"net": []map[string]any{{"tradingsymbol": "INFY"}}, "day": []map[string]any{}})
		case "/user/margins":
			success(w, map[string]any{"equity": map[string]any{"enabled": true, "net": 1234.5}})
		case "/user/margins/commodity":
			success(w, map[string]any{"enabled": false, "net": 0})
		}
	})

	positions, err := env.client.Positions(context.Background())
	require.NoError(t, err)
	assert.Len(t, positions.Net, 1)
	assert.Empty(t, positions.Day)

	margins, err := env.client.Margins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234.5, margins.Equity.Net)

	_, err = env.client.SegmentMargins(context.Background(), SegmentCommodity)
	require.NoError(t, err)

	_, err = env.client.SegmentMargins(context.Background(), "crypto")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestConvertPosition(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "MIS", r.PostForm.Get("old_product"))
		assert.Equal(t, "CNC", r.PostForm.Get("new_product"))
		assert.Equal(t, "5", r.PostForm.Get("quantity"))
		success(w, true)
	})

	ok, err := env.client.ConvertPosition(context.Background(), ConvertPositionParams{
		Exchange: "NSE", TradingSymbol: "INFY", OldProduct: "MIS", NewProduct: "CNC",
		PositionType: "day", TransactionType: "BUY", Quantity: 5,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPlaceGTTEncodesConditionAndOrders(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/gtt/triggers", r.URL.Path)
		assert.Equal(t, GTTSingle, r.PostForm.Get("type"))

		var cond gttCondition
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("condition")), &cond))
		assert.Equal(t, []float64{1400}, cond.TriggerValues)
		assert.Equal(t, "INFY", cond.TradingSymbol)

		var orders []gttOrderWire
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("orders")), &orders))
		require.Len(t, orders, 1)
		assert.Equal(t, "NSE", orders[0].Exchange)
		assert.Equal(t, 3, orders[0].Quantity)

		success(w, map[string]any{"trigger_id": 123})
	})

	resp, err := env.client.PlaceGTT(context.Background(), GTTParams{
		Type: GTTSingle, Exchange: "NSE", TradingSymbol: "INFY", LastPrice: 1500,
		TriggerValues: []float64{1400},
		Orders:        []GTTOrder{{TransactionType: "BUY", Quantity: 3, OrderType: "LIMIT", Product: "CNC", Price: 1400}},
	})

	require.NoError(t, err)
	assert.Equal(t, 123, resp.TriggerID)
}

func TestGTTValidation(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {})

	_, err := env.client.PlaceGTT(context.Background(), GTTParams{
		Type: GTTOCO, Exchange: "NSE", TradingSymbol: "INFY",
		TriggerValues: []float64{1400}, Orders: []GTTOrder{{}},
	})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = env.client.ModifyGTT(context.Background(), 1, GTTParams{Type: "weekly"})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Zero(t, atomic.LoadInt32(env.hits))
}

func TestDeleteGTT(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/gtt/triggers/77", r.URL.Path)
		success(w, map[string]any{"trigger_id": 77})
	})

	resp, err := env.client.DeleteGTT(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, 77, resp.TriggerID)
}

func TestHistoricalData(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instruments/historical/408065/day", r.URL.Path)
		assert.Equal(t, "2024-03-01 00:00:00", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-03-04 00:00:00", r.URL.Query().Get("to"))
		assert.Equal(t, "1", r.URL.Query().Get("oi"))
		io.WriteString(w, `{"status":"success","data":{"candles":[
			["2024-03-01T00:00:00+0530",1500,1520.5,1490,1510,123456,7],
			["2024-03-04T00:00:00+0530",1510,1530,1505,1525.25,654321]
		]}}`)
	})

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles, err := env.client.HistoricalData(context.Background(), HistoricalParams{
		InstrumentToken: 408065, Interval: "day", From: from, To: from.AddDate(0, 0, 3), OI: true,
	})

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1520.5, candles[0].High)
	assert.Equal(t, int64(123456), candles[0].Volume)
	assert.Equal(t, int64(7), candles[0].OI)
	assert.Equal(t, 1525.25, candles[1].Close)
	assert.Zero(t, candles[1].OI)
	assert.True(t, candles[0].Timestamp.Equal(time.Date(2024, 2, 29, 18, 30, 0, 0, time.UTC)))
}

func TestHistoricalDataRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {})
	now := time.Now()

	_, err := env.client.HistoricalData(context.Background(), HistoricalParams{InstrumentToken: 1, Interval: "week", From: now, To: now})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = env.client.HistoricalData(context.Background(), HistoricalParams{InstrumentToken: 1, Interval: "day", From: now, To: now.Add(-time.Hour)})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Zero(t, atomic.LoadInt32(env.hits))
}

func TestMalformedCandleIsParseError(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success","data":{"candles":[["2024-03-01T00:00:00+0530",1500]]}}`)
	})

	now := time.Now()
	_, err := env.client.HistoricalData(context.Background(), HistoricalParams{InstrumentToken: 1, Interval: "day", From: now.Add(-time.Hour), To: now})
	assert.Equal(t, apierr.KindParse, apierr.KindOf(err))
}

func TestFetchInstrumentsReturnsRawCSV(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instruments/NSE", r.URL.Path)
		assert.Equal(t, "token key:tok", r.Header.Get("Authorization"))
		io.WriteString(w, "instrument_token,tradingsymbol\n1,INFY\n")
	})

	body, err := env.client.FetchInstruments(context.Background(), "nse")

	require.NoError(t, err)
	assert.Equal(t, "instrument_token,tradingsymbol\n1,INFY\n", string(body))
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t, validSession(), func(w http.ResponseWriter, r *http.Request) {
		success(w, map[string]any{"user_id": "AB1234", "user_name": "Test User"})
	})

	profile, err := env.client.Profile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "AB1234", profile.UserID)
}
