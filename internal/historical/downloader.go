package historical

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sabarim/kitectl/internal/apierr"
	"github.com/sabarim/kitectl/internal/config"
	"github.com/sabarim/kitectl/internal/instruments"
	"github.com/sabarim/kitectl/internal/kite"
)

// Below this span a "range too wide" rejection is not split any further.
const minSplitSpan = 5 * 24 * time.Hour

// CandleFetcher returns candles for one request. kite.Client satisfies it.
type CandleFetcher interface {
	HistoricalData(ctx context.Context, p kite.HistoricalParams) ([]kite.Candle, error)
}

// Downloader manages historical data downloading and processing
type Downloader struct {
	config  config.HistoricalConfig
	fetcher CandleFetcher
	log     zerolog.Logger
	now     func() time.Time
}

// NewDownloader creates a new historical data downloader
func NewDownloader(cfg config.HistoricalConfig, fetcher CandleFetcher, log zerolog.Logger) (*Downloader, error) {
	if _, err := resolveInterval(cfg.Interval); err != nil {
		return nil, err
	}
	if cfg.DaysToFetch <= 0 {
		return nil, apierr.New(apierr.KindValidation, "days to fetch must be positive, got %d", cfg.DaysToFetch)
	}

	// Ensure output directories exist
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if cfg.ParquetEnabled {
		if err := os.MkdirAll(cfg.ParquetDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create parquet directory: %w", err)
		}
	}

	return &Downloader{
		config:  cfg,
		fetcher: fetcher,
		log:     log.With().Str("component", "historical").Logger(),
		now:     time.Now,
	}, nil
}

// resolveInterval accepts the upstream interval names plus "hour" for 60minute
func resolveInterval(interval string) (string, error) {
	if interval == "hour" {
		return "60minute", nil
	}
	if _, ok := maxSpan[interval]; ok {
		return interval, nil
	}
	return "", apierr.New(apierr.KindValidation, "invalid interval: %s", interval)
}

// Download fetches candles for every instrument over the configured number of days and
// writes them to CSV, and to monthly Parquet files when enabled. A failing instrument is
// logged and skipped; cancellation stops the run and returns the results so far.
func (d *Downloader) Download(ctx context.Context, list []instruments.Instrument) ([]Result, error) {
	interval, err := resolveInterval(d.config.Interval)
	if err != nil {
		return nil, err
	}

	to := d.now()
	from := to.AddDate(0, 0, -d.config.DaysToFetch)

	d.log.Info().
		Int("instruments", len(list)).
		Str("interval", interval).
		Time("from", from).
		Time("to", to).
		Msg("Downloading historical data")

	results := make([]Result, 0, len(list))
	for _, instrument := range list {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := d.downloadOne(ctx, instrument, from, to, interval)
		if res.Err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			d.log.Error().Err(res.Err).Str("symbol", instrument.TradingSymbol).Msg("Error downloading data, skipping")
		}
		results = append(results, res)
	}

	d.log.Info().Int("instruments", len(results)).Msg("Historical data download completed")
	return results, nil
}

func (d *Downloader) downloadOne(ctx context.Context, instrument instruments.Instrument, from, to time.Time, interval string) Result {
	res := Result{Instrument: instrument}

	d.log.Info().Str("name", instrument.Name).Str("symbol", instrument.TradingSymbol).Msg("Downloading historical data")

	candles, err := d.downloadRange(ctx, instrument.InstrumentToken, from, to, interval)
	if err != nil {
		res.Err = err
		return res
	}
	res.Candles = len(candles)

	if res.CSVPath, err = d.saveToCSV(instrument, candles); err != nil {
		res.Err = err
		return res
	}

	if d.config.ParquetEnabled {
		if res.ParquetFiles, err = d.convertToParquet(instrument, candles); err != nil {
			res.Err = err
			return res
		}
	}
	return res
}

// downloadRange splits [from, to] into windows no wider than upstream allows for interval.
func (d *Downloader) downloadRange(ctx context.Context, token int64, from, to time.Time, interval string) ([]kite.Candle, error) {
	span := maxSpan[interval]
	if to.Sub(from) <= span {
		return d.downloadChunk(ctx, token, from, to, interval)
	}

	d.log.Debug().
		Float64("days", to.Sub(from).Hours()/24).
		Str("interval", interval).
		Msg("Range exceeds upstream limit, chunking requests")

	var all []kite.Candle
	for currentFrom := from; !currentFrom.After(to); {
		currentTo := currentFrom.Add(span)
		if currentTo.After(to) {
			currentTo = to
		}

		chunk, err := d.downloadChunk(ctx, token, currentFrom, currentTo, interval)
		if err != nil {
			return nil, fmt.Errorf("error downloading chunk from %s to %s: %w",
				currentFrom.Format("2006-01-02"), currentTo.Format("2006-01-02"), err)
		}
		all = append(all, chunk...)

		currentFrom = currentTo.Add(time.Second)
	}
	return all, nil
}

// downloadChunk fetches one window. When upstream still rejects the window as too wide it
// is halved and both halves are fetched.
func (d *Downloader) downloadChunk(ctx context.Context, token int64, from, to time.Time, interval string) ([]kite.Candle, error) {
	candles, err := d.fetcher.HistoricalData(ctx, kite.HistoricalParams{
		InstrumentToken: token,
		Interval:        interval,
		From:            from,
		To:              to,
	})
	if err == nil {
		return candles, nil
	}
	if !rangeTooWide(err) {
		return nil, err
	}
	if to.Sub(from) <= minSplitSpan {
		return nil, fmt.Errorf("even a small date range failed: %w", err)
	}

	mid := from.Add(to.Sub(from) / 2)
	d.log.Debug().Time("split", mid).Msg("Reducing chunk size")

	firstHalf, err := d.downloadChunk(ctx, token, from, mid, interval)
	if err != nil {
		return nil, err
	}
	secondHalf, err := d.downloadChunk(ctx, token, mid.Add(time.Second), to, interval)
	if err != nil {
		return nil, err
	}
	return append(firstHalf, secondHalf...), nil
}

func rangeTooWide(err error) bool {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindValidation {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "interval exceeds max limit") || strings.Contains(msg, "too many candles")
}

// saveToCSV saves historical data to a CSV file
func (d *Downloader) saveToCSV(instrument instruments.Instrument, candles []kite.Candle) (string, error) {
	outputDir := filepath.Join(d.config.OutputDir, instrument.TradingSymbol)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := filepath.Join(outputDir, fmt.Sprintf("%s_historical.csv", instrument.TradingSymbol))
	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if _, err := w.WriteString("timestamp,date,open,high,low,close,volume,oi\n"); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	for _, candle := range candles {
		_, err := fmt.Fprintf(w, "%d,%s,%.2f,%.2f,%.2f,%.2f,%d,%d\n",
			candle.Timestamp.Unix(),
			candle.Timestamp.Format("2006-01-02 15:04:05"),
			candle.Open,
			candle.High,
			candle.Low,
			candle.Close,
			candle.Volume,
			candle.OI,
		)
		if err != nil {
			return "", fmt.Errorf("failed to write data: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to write data: %w", err)
	}

	d.log.Info().Int("count", len(candles)).Str("file", filename).Msg("Saved data points")
	return filename, nil
}

// convertToParquet writes one Parquet file per calendar month
func (d *Downloader) convertToParquet(instrument instruments.Instrument, candles []kite.Candle) ([]string, error) {
	if len(candles) == 0 {
		d.log.Debug().Str("symbol", instrument.TradingSymbol).Msg("No candles to convert")
		return nil, nil
	}

	candlesByYearMonth := make(map[string][]kite.Candle)
	for _, candle := range candles {
		yearMonth := candle.Timestamp.Format("2006-01")
		candlesByYearMonth[yearMonth] = append(candlesByYearMonth[yearMonth], candle)
	}

	months := make([]string, 0, len(candlesByYearMonth))
	for ym := range candlesByYearMonth {
		months = append(months, ym)
	}
	sort.Strings(months)

	dirPath := filepath.Join(d.config.ParquetDir, instrument.TradingSymbol)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory structure: %w", err)
	}

	files := make([]string, 0, len(months))
	for _, yearMonth := range months {
		monthCandles := candlesByYearMonth[yearMonth]
		filename := filepath.Join(dirPath, fmt.Sprintf("%s_%s.parquet", instrument.TradingSymbol, yearMonth))

		if err := writeCandles(filename, instrument.TradingSymbol, monthCandles); err != nil {
			return files, fmt.Errorf("failed to write parquet file: %w", err)
		}
		files = append(files, filename)

		d.log.Debug().
			Int("count", len(monthCandles)).
			Str("symbol", instrument.TradingSymbol).
			Str("month", yearMonth).
			Str("file", filename).
			Msg("Converted data points to parquet")
	}
	return files, nil
}
