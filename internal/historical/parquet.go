package historical

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/sabarim/kitectl/internal/kite"
)

const (
	rowGroupSize = 128 * 1024 * 1024
	pageSize     = 8 * 1024
)

func toPoint(symbol string, c kite.Candle) HistoricalDataPoint {
	ts := c.Timestamp
	return HistoricalDataPoint{
		Symbol:    symbol,
		Timestamp: ts.Unix(),
		Date:      ts.Format("2006-01-02"),
		Year:      int32(ts.Year()),
		Month:     int32(ts.Month()),
		Day:       int32(ts.Day()),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		OI:        c.OI,
	}
}

// writeCandles writes one gzip Parquet file. The file is built under a temporary name and
// renamed into place, so a failed write never leaves a truncated month behind.
func writeCandles(filename string, symbol string, candles []kite.Candle) (err error) {
	tmp := filename + ".partial"
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(HistoricalDataPoint), 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_GZIP
	pw.RowGroupSize = rowGroupSize
	pw.PageSize = pageSize

	for _, candle := range candles {
		if err := pw.Write(toPoint(symbol, candle)); err != nil {
			fw.Close()
			return fmt.Errorf("failed to write parquet data: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}
	return os.Rename(tmp, filename)
}
