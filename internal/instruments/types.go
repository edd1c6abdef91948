package instruments

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sabarim/kitectl/internal/apierr"
)

// Instrument represents a trading instrument as published in the Kite instrument dump
type Instrument struct {
	InstrumentToken int64   `json:"instrument_token"`
	ExchangeToken   int64   `json:"exchange_token"`
	TradingSymbol   string  `json:"tradingsymbol"`
	Name            string  `json:"name"`
	LastPrice       float64 `json:"last_price"`
	Expiry          string  `json:"expiry"`
	StrikePrice     float64 `json:"strike"`
	TickSize        float64 `json:"tick_size"`
	LotSize         int64   `json:"lot_size"`
	InstrumentType  string  `json:"instrument_type"`
	Segment         string  `json:"segment"`
	Exchange        string  `json:"exchange"`
}

// Columns is the header row of both the upstream dump and the cache file.
var Columns = []string{
	"instrument_token",
	"exchange_token",
	"tradingsymbol",
	"name",
	"last_price",
	"expiry",
	"strike",
	"tick_size",
	"lot_size",
	"instrument_type",
	"segment",
	"exchange",
}

// Info describes the cache directory.
type Info struct {
	Dir       string
	Files     []FileInfo
	TotalSize int64
}

// FileInfo describes one cache file.
type FileInfo struct {
	Exchange string
	Day      string
	Size     int64
	Modified time.Time
}

func (i Instrument) record() []string {
	return []string{
		strconv.FormatInt(i.InstrumentToken, 10),
		strconv.FormatInt(i.ExchangeToken, 10),
		i.TradingSymbol,
		i.Name,
		formatFloat(i.LastPrice),
		i.Expiry,
		formatFloat(i.StrikePrice),
		formatFloat(i.TickSize),
		strconv.FormatInt(i.LotSize, 10),
		i.InstrumentType,
		i.Segment,
		i.Exchange,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// WriteCSV writes the header and one row per instrument.
func WriteCSV(w io.Writer, list []Instrument) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, inst := range list {
		if err := cw.Write(inst.record()); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseCSV parses an instrument dump. Columns are matched by header name, so extra
// upstream columns are ignored. Any malformed row fails the whole parse with a ParseError
// whose Row is the 1-based data row; the header is row 0.
func ParseCSV(r io.Reader) ([]Instrument, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &apierr.Error{Kind: apierr.KindParse, Message: "empty instrument file"}
	}
	if err != nil {
		return nil, &apierr.Error{Kind: apierr.KindParse, Message: "failed to read CSV header", Err: err}
	}

	// Map header columns to indices
	columns := make(map[string]int, len(header))
	for i, col := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}
	for _, col := range Columns {
		if _, ok := columns[col]; !ok {
			return nil, &apierr.Error{Kind: apierr.KindParse, Message: fmt.Sprintf("missing column %q", col)}
		}
	}

	var list []Instrument
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &apierr.Error{Kind: apierr.KindParse, Row: row, Message: "failed to read CSV record", Err: err}
		}

		inst, err := parseRecord(record, columns)
		if err != nil {
			return nil, &apierr.Error{Kind: apierr.KindParse, Row: row, Message: err.Error()}
		}
		list = append(list, inst)
	}
	return list, nil
}

func parseRecord(record []string, columns map[string]int) (Instrument, error) {
	field := func(name string) string { return record[columns[name]] }

	var inst Instrument
	var err error
	if inst.InstrumentToken, err = parseInt(field("instrument_token"), true); err != nil {
		return Instrument{}, fmt.Errorf("instrument_token: %w", err)
	}
	if inst.ExchangeToken, err = parseInt(field("exchange_token"), false); err != nil {
		return Instrument{}, fmt.Errorf("exchange_token: %w", err)
	}
	if inst.LastPrice, err = parseFloat(field("last_price")); err != nil {
		return Instrument{}, fmt.Errorf("last_price: %w", err)
	}
	if inst.StrikePrice, err = parseFloat(field("strike")); err != nil {
		return Instrument{}, fmt.Errorf("strike: %w", err)
	}
	if inst.TickSize, err = parseFloat(field("tick_size")); err != nil {
		return Instrument{}, fmt.Errorf("tick_size: %w", err)
	}
	if inst.LotSize, err = parseInt(field("lot_size"), false); err != nil {
		return Instrument{}, fmt.Errorf("lot_size: %w", err)
	}

	inst.TradingSymbol = field("tradingsymbol")
	inst.Name = field("name")
	inst.Expiry = field("expiry")
	inst.InstrumentType = field("instrument_type")
	inst.Segment = field("segment")
	inst.Exchange = field("exchange")
	return inst, nil
}

// Helper functions for parsing CSV values. Optional numeric columns may be blank.
func parseInt(s string, required bool) (int64, error) {
	if s == "" {
		if required {
			return 0, errors.New("value is required")
		}
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
