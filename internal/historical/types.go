package historical

import (
	"time"

	"github.com/sabarim/kitectl/internal/instruments"
)

// Result reports the outcome for one instrument of a download run
type Result struct {
	Instrument   instruments.Instrument
	Candles      int
	CSVPath      string
	ParquetFiles []string
	Err          error
}

// HistoricalDataPoint represents a single historical data point for parquet
type HistoricalDataPoint struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, encoding=DELTA_BINARY_PACKED"`
	Date      string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Year      int32   `parquet:"name=year, type=INT32, encoding=PLAIN_DICTIONARY"`
	Month     int32   `parquet:"name=month, type=INT32, encoding=PLAIN_DICTIONARY"`
	Day       int32   `parquet:"name=day, type=INT32, encoding=PLAIN_DICTIONARY"`
	Open      float64 `parquet:"name=open, type=DOUBLE, encoding=PLAIN"`
	High      float64 `parquet:"name=high, type=DOUBLE, encoding=PLAIN"`
	Low       float64 `parquet:"name=low, type=DOUBLE, encoding=PLAIN"`
	Close     float64 `parquet:"name=close, type=DOUBLE, encoding=PLAIN"`
	Volume    int64   `parquet:"name=volume, type=INT64, encoding=DELTA_BINARY_PACKED"`
	OI        int64   `parquet:"name=oi, type=INT64, encoding=DELTA_BINARY_PACKED"`
}

// maxSpan is the widest date range upstream serves in one call, per interval
var maxSpan = map[string]time.Duration{
	"minute":   60 * 24 * time.Hour,
	"3minute":  100 * 24 * time.Hour,
	"5minute":  100 * 24 * time.Hour,
	"10minute": 100 * 24 * time.Hour,
	"15minute": 200 * 24 * time.Hour,
	"30minute": 200 * 24 * time.Hour,
	"60minute": 400 * 24 * time.Hour,
	"day":      2000 * 24 * time.Hour,
}
