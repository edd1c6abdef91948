package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabarim/kitectl/internal/apierr"
	"github.com/sabarim/kitectl/internal/kite"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"auth", "login"}, {"auth", "logout"}, {"auth", "status"}, {"auth", "url"},
		{"instruments", "list"}, {"instruments", "search"}, {"instruments", "get"},
		{"instruments", "clear"}, {"instruments", "info"}, {"instruments", "export"},
		{"quote"}, {"ltp"}, {"ohlc"}, {"profile"}, {"margins"}, {"historical"},
		{"orders", "list"}, {"orders", "history"}, {"orders", "place"},
		{"orders", "modify"}, {"orders", "cancel"}, {"orders", "trades"},
		{"portfolio", "holdings"}, {"portfolio", "positions"}, {"portfolio", "convert"},
		{"gtt", "list"}, {"gtt", "get"}, {"gtt", "create"}, {"gtt", "modify"}, {"gtt", "delete"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestHintFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{apierr.New(apierr.KindAuth, "expired"), "run `kitectl auth login` again"},
		{apierr.New(apierr.KindRateLimitExceeded, "slow down"), "too many requests, wait a moment and retry"},
		{fmt.Errorf("wrapped: %w", apierr.New(apierr.KindServer, "502")), "the Kite API is having trouble, retry later"},
		{&apierr.Error{Kind: apierr.KindParse, Row: 3, Message: "bad row"}, "the instrument cache is corrupt, run `kitectl instruments clear`"},
		{apierr.New(apierr.KindParse, "bad json"), "the API returned an unexpected response"},
		{fmt.Errorf("plain"), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hintFor(tt.err), tt.err.Error())
	}
}

func TestExtractRequestToken(t *testing.T) {
	token, err := extractRequestToken("  abc123 \n")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	token, err = extractRequestToken("http://127.0.0.1:5000/?action=login&type=login&status=success&request_token=xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	token, err = extractRequestToken("status=success&request_token=qs")
	require.NoError(t, err)
	assert.Equal(t, "qs", token)

	_, err = extractRequestToken("http://localhost/?status=cancelled&request_token=xyz")
	assert.ErrorIs(t, err, apierr.ErrAuth)

	_, err = extractRequestToken("")
	assert.ErrorIs(t, err, apierr.ErrAuth)
}

func TestQualify(t *testing.T) {
	got := qualify([]string{"infy", "BSE:sensex, nse:tcs", " "})
	assert.Equal(t, []string{"NSE:INFY", "BSE:SENSEX", "NSE:TCS"}, got)
}

func TestReadSymbols(t *testing.T) {
	got, err := readSymbols("INFY, TCS,,", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"INFY", "TCS"}, got)

	path := filepath.Join(t.TempDir(), "symbols.txt")
	require.NoError(t, os.WriteFile(path, []byte("# watchlist\nRELIANCE\n\nHDFCBANK\n"), 0o644))
	got, err = readSymbols("", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"RELIANCE", "HDFCBANK"}, got)

	_, err = readSymbols("", "")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = readSymbols("", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestOrderFlagsDefaults(t *testing.T) {
	f := &orderFlags{exchange: "nse", symbol: "infy", side: "buy", product: "cnc", quantity: 5}
	p := f.params()
	assert.Equal(t, "NSE", p.Exchange)
	assert.Equal(t, "INFY", p.Tradingsymbol)
	assert.Equal(t, "BUY", p.TransactionType)
	assert.Equal(t, "MARKET", p.OrderType)
	assert.Equal(t, "DAY", p.Validity)
	assert.Equal(t, 5, p.Quantity)

	f.price = 1500.5
	assert.Equal(t, "LIMIT", f.params().OrderType)

	// modify sends only what was given
	m := (&orderFlags{price: 10}).params()
	assert.Empty(t, m.OrderType)
	assert.Empty(t, m.Validity)
}

func TestGTTFlagsParams(t *testing.T) {
	f := &gttFlags{
		gttType: "Two-Leg", exchange: "nse", symbol: "infy", lastPrice: 1500,
		triggers: []float64{1400, 1600}, side: "sell", quantity: 2, orderType: "limit", product: "cnc",
	}
	p, err := f.params()
	require.NoError(t, err)
	assert.Equal(t, kite.GTTOCO, p.Type)
	require.Len(t, p.Orders, 2)
	assert.Equal(t, 1400.0, p.Orders[0].Price)
	assert.Equal(t, 1600.0, p.Orders[1].Price)
	assert.Equal(t, "SELL", p.Orders[1].TransactionType)

	f.prices = []float64{1399}
	_, err = f.params()
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestParseTriggerID(t *testing.T) {
	id, err := parseTriggerID("42")
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseTriggerID(bad)
		assert.Error(t, err, bad)
	}
}
