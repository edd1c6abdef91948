package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sabarim/kitectl/internal/apierr"
)

var versionString = "0.1.0"

type rootOptions struct {
	configFile string
	envFile    string
	verbose    bool
}

func main() {
	// Create context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigchan
		fmt.Fprintf(os.Stderr, "Received signal %v, shutting down...\n", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := hintFor(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "kitectl",
		Short:         "A command-line client for the Kite Connect trading API",
		Long:          `kitectl places orders, fetches quotes, portfolio and margins, manages GTT triggers and downloads historical data through the Kite Connect API.`,
		Version:       versionString,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(opts, cmd.OutOrStdout())
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to config file (default is the user config dir)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file with KITE_* variables")
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging")

	rootCmd.AddCommand(
		newAuthCmd(a),
		newProfileCmd(a),
		newInstrumentsCmd(a),
	)
	rootCmd.AddCommand(newQuoteCmds(a)...)
	rootCmd.AddCommand(
		newOrdersCmd(a),
		newPortfolioCmd(a),
		newMarginsCmd(a),
		newGTTCmd(a),
		newHistoricalCmd(a),
	)
	return rootCmd
}

// hintFor turns an error kind into a suggestion for the user.
func hintFor(err error) string {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		return ""
	}
	switch apiErr.Kind {
	case apierr.KindAuth:
		return "run `kitectl auth login` again"
	case apierr.KindRateLimit, apierr.KindRateLimitExceeded:
		return "too many requests, wait a moment and retry"
	case apierr.KindNetwork:
		return "check your network connection and retry"
	case apierr.KindServer:
		return "the Kite API is having trouble, retry later"
	case apierr.KindValidation:
		return "check the command arguments"
	case apierr.KindParse:
		if apiErr.Row > 0 {
			return "the instrument cache is corrupt, run `kitectl instruments clear`"
		}
		return "the API returned an unexpected response"
	}
	return ""
}
