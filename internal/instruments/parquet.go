package instruments

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// instrumentRow is the Parquet schema of an instrument snapshot
type instrumentRow struct {
	InstrumentToken int64   `parquet:"name=instrument_token, type=INT64"`
	ExchangeToken   int64   `parquet:"name=exchange_token, type=INT64"`
	TradingSymbol   string  `parquet:"name=tradingsymbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name            string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	LastPrice       float64 `parquet:"name=last_price, type=DOUBLE, encoding=PLAIN"`
	Expiry          string  `parquet:"name=expiry, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	StrikePrice     float64 `parquet:"name=strike, type=DOUBLE, encoding=PLAIN"`
	TickSize        float64 `parquet:"name=tick_size, type=DOUBLE, encoding=PLAIN"`
	LotSize         int64   `parquet:"name=lot_size, type=INT64"`
	InstrumentType  string  `parquet:"name=instrument_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Segment         string  `parquet:"name=segment, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Exchange        string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
}

// WriteParquet writes list to a gzip-compressed Parquet file at path.
func WriteParquet(path string, list []Instrument) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(instrumentRow), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_GZIP
	pw.PageSize = 8 * 1024

	for _, inst := range list {
		row := instrumentRow{
			InstrumentToken: inst.InstrumentToken,
			ExchangeToken:   inst.ExchangeToken,
			TradingSymbol:   inst.TradingSymbol,
			Name:            inst.Name,
			LastPrice:       inst.LastPrice,
			Expiry:          inst.Expiry,
			StrikePrice:     inst.StrikePrice,
			TickSize:        inst.TickSize,
			LotSize:         inst.LotSize,
			InstrumentType:  inst.InstrumentType,
			Segment:         inst.Segment,
			Exchange:        inst.Exchange,
		}
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("failed to write parquet data: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// ExportParquet writes the current instrument list for exchange to path, fetching it first
// when the cache is stale. It returns the number of rows written.
func (c *Cache) ExportParquet(ctx context.Context, exchange, path string) (int, error) {
	list, err := c.ListOrFetch(ctx, exchange, false)
	if err != nil {
		return 0, err
	}
	if err := WriteParquet(path, list); err != nil {
		return 0, err
	}
	c.log.Info().Str("exchange", normalize(exchange)).Int("count", len(list)).Str("path", path).Msg("Exported instruments to parquet")
	return len(list), nil
}
