package instruments

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/sabarim/kitectl/internal/apierr"
)

type fakeFetcher struct {
	calls   int32
	body    []byte
	err     error
	release chan struct{}
}

func (f *fakeFetcher) FetchInstruments(ctx context.Context, exchange string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.body, f.err
}

var sample = []Instrument{
	{
		InstrumentToken: 408065, ExchangeToken: 1594, TradingSymbol: "INFY", Name: "INFOSYS",
		LastPrice: 1500.55, TickSize: 0.05, LotSize: 1, InstrumentType: "EQ", Segment: "NSE", Exchange: "NSE",
	},
	{
		InstrumentToken: 2953217, ExchangeToken: 11536, TradingSymbol: "TCS", Name: `TATA CONSULTANCY, "TCS"`,
		TickSize: 0.05, LotSize: 1, InstrumentType: "EQ", Segment: "NSE", Exchange: "NSE",
	},
	{
		InstrumentToken: 12345678, ExchangeToken: 48225, TradingSymbol: "NIFTY24MAR22000CE", Name: "NIFTY",
		Expiry: "2024-03-28", StrikePrice: 22000, TickSize: 0.05, LotSize: 50, InstrumentType: "CE",
		Segment: "NFO-OPT", Exchange: "NFO",
	},
}

func newTestCache(t *testing.T, fetcher Fetcher) (*Cache, time.Time) {
	t.Helper()
	now := time.Now()
	return NewCache(t.TempDir(), fetcher, zerolog.Nop(), WithClock(func() time.Time { return now })), now
}

func csvBody(t *testing.T, list []Instrument) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, list))
	return buf.Bytes()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, &fakeFetcher{})

	require.NoError(t, cache.Save("nse", sample))
	loaded, err := cache.Load("NSE")

	require.NoError(t, err)
	assert.Equal(t, sample, loaded)
}

func TestCacheFileNameAndHeader(t *testing.T) {
	cache, now := newTestCache(t, &fakeFetcher{})
	require.NoError(t, cache.Save("NSE", sample))

	path := filepath.Join(cache.Dir(), "nse_"+now.Format("2006-01-02")+".csv")
	assert.Equal(t, path, cache.Path("NSE"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	header, _, _ := strings.Cut(string(data), "\n")
	assert.Equal(t, "instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange", header)
}

func TestLoadMalformedRowFailsWholeLoad(t *testing.T) {
	cache, _ := newTestCache(t, &fakeFetcher{})
	require.NoError(t, os.MkdirAll(cache.Dir(), 0o755))

	var b strings.Builder
	b.WriteString(strings.Join(Columns, ",") + "\n")
	for i := 1; i <= 6; i++ {
		b.WriteString("1,2,SYM,NAME,0,,0,0.05,1,EQ,NSE,NSE\n")
	}
	b.WriteString("1,2,BAD,NAME,0,,0,0.05,lots,EQ,NSE,NSE\n")
	b.WriteString("1,2,SYM,NAME,0,,0,0.05,1,EQ,NSE,NSE\n")
	require.NoError(t, os.WriteFile(cache.Path("NSE"), []byte(b.String()), 0o644))

	list, err := cache.Load("NSE")

	assert.Nil(t, list)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierr.KindParse, apiErr.Kind)
	assert.Equal(t, 7, apiErr.Row)
	assert.Contains(t, err.Error(), "row 7")
	assert.Contains(t, err.Error(), "lot_size")
}

func TestParseCSVRejectsMissingColumns(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("instrument_token,tradingsymbol\n1,INFY\n"))
	assert.Equal(t, apierr.KindParse, apierr.KindOf(err))

	_, err = ParseCSV(strings.NewReader(""))
	assert.Equal(t, apierr.KindParse, apierr.KindOf(err))
}

func TestParseCSVIgnoresExtraColumnsAndOrder(t *testing.T) {
	body := "exchange,tradingsymbol,instrument_token,exchange_token,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,extra\n" +
		"NSE,INFY,408065,1594,INFOSYS,,,,0.05,1,EQ,NSE,ignored\n"

	list, err := ParseCSV(strings.NewReader(body))

	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(408065), list[0].InstrumentToken)
	assert.Equal(t, "INFY", list[0].TradingSymbol)
	assert.Zero(t, list[0].LastPrice)
}

func TestIsValidBoundary(t *testing.T) {
	cache, now := newTestCache(t, &fakeFetcher{})
	assert.False(t, cache.IsValid("NSE"), "missing entry")

	require.NoError(t, cache.Save("NSE", sample))
	path := cache.Path("NSE")

	require.NoError(t, os.Chtimes(path, now, now.Add(-23*time.Hour)))
	assert.True(t, cache.IsValid("NSE"))

	require.NoError(t, os.Chtimes(path, now, now.Add(-24*time.Hour)))
	assert.False(t, cache.IsValid("NSE"), "exactly 24h is stale")

	require.NoError(t, os.Chtimes(path, now, now.Add(-25*time.Hour)))
	assert.False(t, cache.IsValid("NSE"))
}

func TestRefreshFailureKeepsPreviousEntry(t *testing.T) {
	fetcher := &fakeFetcher{err: apierr.New(apierr.KindNetwork, "connection reset")}
	cache, _ := newTestCache(t, fetcher)
	require.NoError(t, cache.Save("NSE", sample))

	_, err := cache.Refresh(context.Background(), "NSE")
	assert.Equal(t, apierr.KindNetwork, apierr.KindOf(err))

	fetcher.err = nil
	fetcher.body = []byte(strings.Join(Columns, ",") + "\nnot,a,row\n")
	_, err = cache.Refresh(context.Background(), "NSE")
	assert.Equal(t, apierr.KindParse, apierr.KindOf(err))

	loaded, err := cache.Load("NSE")
	require.NoError(t, err)
	assert.Equal(t, sample, loaded)
}

func TestListOrFetch(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache, _ := newTestCache(t, fetcher)
	fetcher.body = csvBody(t, sample)

	list, err := cache.ListOrFetch(context.Background(), "NSE", false)
	require.NoError(t, err)
	assert.Equal(t, sample, list)
	assert.Equal(t, int32(1), fetcher.calls)

	_, err = cache.ListOrFetch(context.Background(), "NSE", false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls, "fresh entry must be served from disk")

	_, err = cache.ListOrFetch(context.Background(), "NSE", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls)
}

func TestSaveIsAtomicAndPrunesOlderDays(t *testing.T) {
	cache, _ := newTestCache(t, &fakeFetcher{})
	require.NoError(t, os.MkdirAll(cache.Dir(), 0o755))

	stale := filepath.Join(cache.Dir(), "nse_2000-01-01.csv")
	other := filepath.Join(cache.Dir(), "bse_2000-01-01.csv")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("old"), 0o644))

	require.NoError(t, cache.Save("NSE", sample))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, other)

	entries, err := os.ReadDir(cache.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temporary file left behind: %s", e.Name())
	}
}

func TestConcurrentRefreshSharesDownload(t *testing.T) {
	fetcher := &fakeFetcher{release: make(chan struct{})}
	cache, _ := newTestCache(t, fetcher)
	fetcher.body = csvBody(t, sample)

	var wg sync.WaitGroup
	results := make([][]Instrument, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			list, err := cache.Refresh(context.Background(), "NSE")
			assert.NoError(t, err)
			results[i] = list
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
	for _, list := range results {
		assert.Equal(t, sample, list)
	}
}

func TestRefreshWaiterHonoursOwnDeadline(t *testing.T) {
	fetcher := &fakeFetcher{release: make(chan struct{})}
	cache, _ := newTestCache(t, fetcher)
	fetcher.body = csvBody(t, sample)

	first := make(chan error, 1)
	go func() {
		_, err := cache.Refresh(context.Background(), "NSE")
		first <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&fetcher.calls) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := cache.Refresh(ctx, "NSE")
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, apierr.KindNetwork, apierr.KindOf(err))

	close(fetcher.release)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestRefreshCancelledCallerDoesNotFailOthers(t *testing.T) {
	fetcher := &fakeFetcher{release: make(chan struct{})}
	cache, _ := newTestCache(t, fetcher)
	fetcher.body = csvBody(t, sample)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := cache.Refresh(ctx, "NSE")
		first <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&fetcher.calls) == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan []Instrument, 1)
	go func() {
		list, err := cache.Refresh(context.Background(), "NSE")
		assert.NoError(t, err)
		second <- list
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(fetcher.release)
	assert.Equal(t, sample, <-second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
	assert.True(t, cache.IsValid("NSE"))
}

func TestSharedRefreshIsBounded(t *testing.T) {
	fetcher := &fakeFetcher{release: make(chan struct{})}
	defer close(fetcher.release)
	cache := NewCache(t.TempDir(), fetcher, zerolog.Nop(), WithFetchTimeout(50*time.Millisecond))

	_, err := cache.Refresh(context.Background(), "NSE")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, cache.IsValid("NSE"))
}

func TestLoadMissingEntryIsValidationError(t *testing.T) {
	cache, _ := newTestCache(t, &fakeFetcher{})

	_, err := cache.Load("NSE")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLookupAndSearch(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache, _ := newTestCache(t, fetcher)
	require.NoError(t, cache.Save("NSE", sample))

	inst, err := cache.Lookup(context.Background(), "nse", "infy")
	require.NoError(t, err)
	assert.Equal(t, int64(408065), inst.InstrumentToken)

	_, err = cache.Lookup(context.Background(), "NSE", "NOPE")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	found, err := cache.LookupAll(context.Background(), "NSE", []string{"TCS", "NOPE", "infy"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "TCS", found[0].TradingSymbol)

	matches, err := cache.Search(context.Background(), "NSE", "consult", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "TCS", matches[0].TradingSymbol)

	matches, err = cache.Search(context.Background(), "NSE", "", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.Zero(t, fetcher.calls)
}

func TestClearAndInfo(t *testing.T) {
	cache, now := newTestCache(t, &fakeFetcher{})

	info, err := cache.Info()
	require.NoError(t, err)
	assert.Empty(t, info.Files)

	require.NoError(t, cache.Save("NSE", sample))
	require.NoError(t, cache.Save("NFO", sample[2:]))

	info, err = cache.Info()
	require.NoError(t, err)
	require.Len(t, info.Files, 2)
	assert.Equal(t, "NFO", info.Files[0].Exchange)
	assert.Equal(t, now.Format("2006-01-02"), info.Files[1].Day)
	assert.Positive(t, info.TotalSize)

	n, err := cache.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, cache.IsValid("NSE"))
}

func TestInfoSortsByExchangeThenDay(t *testing.T) {
	cache, now := newTestCache(t, &fakeFetcher{})
	require.NoError(t, cache.Save("NFO", sample[2:]))
	for _, name := range []string{"nse_2024-01-02.csv", "nse_2024-01-01.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(cache.Dir(), name), []byte("x"), 0o644))
	}

	info, err := cache.Info()
	require.NoError(t, err)
	require.Len(t, info.Files, 3)
	assert.Equal(t, "NFO", info.Files[0].Exchange)
	assert.Equal(t, now.Format("2006-01-02"), info.Files[0].Day)
	assert.Equal(t, "2024-01-01", info.Files[1].Day)
	assert.Equal(t, "2024-01-02", info.Files[2].Day)
	assert.Equal(t, "NSE", info.Files[2].Exchange)
}

func TestInvalidExchangeIsRejected(t *testing.T) {
	cache, _ := newTestCache(t, &fakeFetcher{})

	assert.Equal(t, apierr.KindValidation, apierr.KindOf(cache.Save("../etc", sample)))
	_, err := cache.Refresh(context.Background(), " ")
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestExportParquet(t *testing.T) {
	cache, _ := newTestCache(t, &fakeFetcher{})
	require.NoError(t, cache.Save("NSE", sample))
	path := filepath.Join(t.TempDir(), "out", "nse.parquet")

	n, err := cache.ExportParquet(context.Background(), "NSE", path)
	require.NoError(t, err)
	assert.Equal(t, len(sample), n)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(instrumentRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	assert.Equal(t, int64(len(sample)), pr.GetNumRows())

	rows := make([]instrumentRow, len(sample))
	require.NoError(t, pr.Read(&rows))
	assert.Equal(t, "INFY", rows[0].TradingSymbol)
	assert.Equal(t, int64(50), rows[2].LotSize)
}
