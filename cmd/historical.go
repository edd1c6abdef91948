package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sabarim/kitectl/internal/apierr"
	"github.com/sabarim/kitectl/internal/historical"
)

func newHistoricalCmd(a *app) *cobra.Command {
	var (
		symbolsStr     string
		symbolFile     string
		exchange       string
		days           int
		interval       string
		outputDir      string
		parquetEnabled bool
		parquetDir     string
	)

	cmd := &cobra.Command{
		Use:   "historical",
		Short: "Download historical candles to CSV and Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Override configuration with command-line flags
			cfg := a.cfg.Historical
			if days > 0 {
				cfg.DaysToFetch = days
			}
			if interval != "" {
				cfg.Interval = interval
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}
			if parquetEnabled {
				cfg.ParquetEnabled = true
			}
			if parquetDir != "" {
				cfg.ParquetDir = parquetDir
			}

			symbols, err := readSymbols(symbolsStr, symbolFile)
			if err != nil {
				return err
			}

			list, err := a.cache.LookupAll(cmd.Context(), exchange, symbols)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				return apierr.New(apierr.KindValidation, "no valid instruments found for the specified symbols")
			}

			downloader, err := historical.NewDownloader(cfg, a.client, a.log)
			if err != nil {
				return err
			}
			results, err := downloader.Download(cmd.Context(), list)
			if err != nil {
				return err
			}

			type summary struct {
				Symbol       string   `json:"symbol"`
				Candles      int      `json:"candles"`
				CSV          string   `json:"csv,omitempty"`
				ParquetFiles []string `json:"parquet_files,omitempty"`
				Error        string   `json:"error,omitempty"`
			}
			out := make([]summary, 0, len(results))
			for _, r := range results {
				s := summary{Symbol: r.Instrument.TradingSymbol, Candles: r.Candles, CSV: r.CSVPath, ParquetFiles: r.ParquetFiles}
				if r.Err != nil {
					s.Error = r.Err.Error()
				}
				out = append(out, s)
			}
			return a.print(out)
		},
	}

	cmd.Flags().StringVar(&symbolsStr, "symbols", "", "Comma-separated list of symbols to download")
	cmd.Flags().StringVar(&symbolFile, "symbol-file", "", "File containing symbols, one per line")
	cmd.Flags().StringVar(&exchange, "exchange", "NSE", "Exchange of the symbols")
	cmd.Flags().IntVar(&days, "days", 0, "Number of days to fetch")
	cmd.Flags().StringVar(&interval, "interval", "", "Time interval (minute, 3minute ... 60minute, hour, day)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Output directory for CSV files")
	cmd.Flags().BoolVar(&parquetEnabled, "parquet", false, "Also write monthly Parquet files")
	cmd.Flags().StringVar(&parquetDir, "parquet-dir", "", "Output directory for Parquet files")
	return cmd
}

// readSymbols takes symbols from the flag first, then from the file.
func readSymbols(symbolsStr, symbolFile string) ([]string, error) {
	var raw []string
	switch {
	case symbolsStr != "":
		raw = strings.Split(symbolsStr, ",")
	case symbolFile != "":
		content, err := os.ReadFile(symbolFile)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindValidation, err, "failed to read symbol file")
		}
		raw = strings.Split(string(content), "\n")
	default:
		return nil, apierr.New(apierr.KindValidation, "no symbols specified, use --symbols or --symbol-file")
	}

	var symbols []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" && !strings.HasPrefix(s, "#") {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return nil, apierr.New(apierr.KindValidation, "no symbols specified")
	}
	return symbols, nil
}
