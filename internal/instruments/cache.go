package instruments

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sabarim/kitectl/internal/apierr"
)

// DefaultTTL is how long a cache file stays fresh.
const DefaultTTL = 24 * time.Hour

// DefaultFetchTimeout bounds one shared instrument download.
const DefaultFetchTimeout = 2 * time.Minute

// Fetcher downloads the raw instrument dump for one exchange. kite.Client satisfies it.
type Fetcher interface {
	FetchInstruments(ctx context.Context, exchange string) ([]byte, error)
}

// Cache stores one instrument list per (exchange, day) as a CSV file under dir.
type Cache struct {
	dir          string
	ttl          time.Duration
	fetchTimeout time.Duration
	fetcher      Fetcher
	log          zerolog.Logger
	now          func() time.Time

	group singleflight.Group
}

// Option customises a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache rooted at dir. The directory is created on first save.
func NewCache(dir string, fetcher Fetcher, log zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		dir:          dir,
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		fetcher:      fetcher,
		log:          log.With().Str("component", "instruments").Logger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the cache file for exchange on the current day.
func (c *Cache) Path(exchange string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.csv", strings.ToLower(exchange), c.now().Format("2006-01-02")))
}

// IsValid reports whether today's entry for exchange exists and is younger than the TTL.
// An entry exactly TTL old is stale.
func (c *Cache) IsValid(exchange string) bool {
	info, err := os.Stat(c.Path(normalize(exchange)))
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return c.now().Sub(info.ModTime()) < c.ttl
}

// Load reads today's entry for exchange. A malformed row fails the whole load.
func (c *Cache) Load(exchange string) ([]Instrument, error) {
	exchange, err := validExchange(exchange)
	if err != nil {
		return nil, err
	}

	path := c.Path(exchange)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apierr.Wrap(apierr.KindValidation, err, "no instrument cache for %s today, refresh it first", exchange)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read instrument cache %s: %w", path, err)
	}
	return ParseCSV(bytes.NewReader(data))
}

// Save writes today's entry for exchange atomically and removes entries for the same
// exchange from earlier days.
func (c *Cache) Save(exchange string, list []Instrument) error {
	exchange, err := validExchange(exchange)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := c.Path(exchange)
	tmp, err := os.CreateTemp(c.dir, "."+strings.ToLower(exchange)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := WriteCSV(w, list); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write instrument cache: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write instrument cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync instrument cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close instrument cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace instrument cache: %w", err)
	}

	c.pruneOlder(exchange, path)
	c.log.Debug().Str("exchange", exchange).Int("count", len(list)).Str("path", path).Msg("Saved instrument cache")
	return nil
}

func (c *Cache) pruneOlder(exchange, keep string) {
	matches, err := filepath.Glob(filepath.Join(c.dir, strings.ToLower(exchange)+"_*.csv"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if m == keep {
			continue
		}
		if err := os.Remove(m); err != nil {
			c.log.Warn().Err(err).Str("path", m).Msg("Failed to remove stale instrument cache")
		}
	}
}

// Refresh downloads, parses and saves the instrument list for exchange. On any failure the
// previous entry is left untouched. Concurrent refreshes of one exchange share a download
// that runs detached from any single caller; each caller stops waiting when its own ctx is
// done.
func (c *Cache) Refresh(ctx context.Context, exchange string) ([]Instrument, error) {
	exchange, err := validExchange(exchange)
	if err != nil {
		return nil, err
	}

	ch := c.group.DoChan(exchange, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		c.log.Info().Str("exchange", exchange).Msg("Downloading instruments")

		body, err := c.fetcher.FetchInstruments(fetchCtx, exchange)
		if err != nil {
			return nil, err
		}
		list, err := ParseCSV(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if err := c.Save(exchange, list); err != nil {
			return nil, err
		}

		c.log.Info().Str("exchange", exchange).Int("count", len(list)).Msg("Loaded instruments")
		return list, nil
	})

	select {
	case <-ctx.Done():
		return nil, apierr.Wrap(apierr.KindNetwork, ctx.Err(), "instrument refresh for %s cancelled", exchange)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		list := res.Val.([]Instrument)
		if res.Shared {
			list = slices.Clone(list)
		}
		return list, nil
	}
}

// ListOrFetch returns the cached list when fresh, otherwise refreshes it.
func (c *Cache) ListOrFetch(ctx context.Context, exchange string, forceRefresh bool) ([]Instrument, error) {
	if !forceRefresh && c.IsValid(exchange) {
		return c.Load(exchange)
	}
	return c.Refresh(ctx, exchange)
}

// Lookup returns the instrument with the given trading symbol, ignoring case.
func (c *Cache) Lookup(ctx context.Context, exchange, symbol string) (Instrument, error) {
	list, err := c.ListOrFetch(ctx, exchange, false)
	if err != nil {
		return Instrument{}, err
	}
	for _, inst := range list {
		if strings.EqualFold(inst.TradingSymbol, symbol) {
			return inst, nil
		}
	}
	return Instrument{}, apierr.New(apierr.KindValidation, "instrument not found: %s:%s", normalize(exchange), symbol)
}

// LookupAll resolves several symbols, skipping the ones that do not exist.
func (c *Cache) LookupAll(ctx context.Context, exchange string, symbols []string) ([]Instrument, error) {
	list, err := c.ListOrFetch(ctx, exchange, false)
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]Instrument, len(list))
	for _, inst := range list {
		bySymbol[strings.ToUpper(inst.TradingSymbol)] = inst
	}

	var found []Instrument
	for _, symbol := range symbols {
		inst, ok := bySymbol[strings.ToUpper(symbol)]
		if !ok {
			c.log.Warn().Str("exchange", normalize(exchange)).Str("symbol", symbol).Msg("Instrument not found")
			continue
		}
		found = append(found, inst)
	}
	return found, nil
}

// Search returns instruments whose symbol or name contains query, ignoring case. A
// non-positive limit returns every match.
func (c *Cache) Search(ctx context.Context, exchange, query string, limit int) ([]Instrument, error) {
	list, err := c.ListOrFetch(ctx, exchange, false)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var matches []Instrument
	for _, inst := range list {
		if strings.Contains(strings.ToLower(inst.TradingSymbol), q) || strings.Contains(strings.ToLower(inst.Name), q) {
			matches = append(matches, inst)
			if limit > 0 && len(matches) == limit {
				break
			}
		}
	}
	return matches, nil
}

// Clear removes every cache file and returns how many were removed.
func (c *Cache) Clear() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove cache file %s: %w", e.Name(), err)
		}
		removed++
	}
	c.log.Info().Int("count", removed).Msg("Cleared instrument cache")
	return removed, nil
}

// Info lists the cache files, sorted by exchange then day.
func (c *Cache) Info() (Info, error) {
	info := Info{Dir: c.dir}

	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return info, fmt.Errorf("failed to stat cache file %s: %w", e.Name(), err)
		}

		exchange, day, _ := strings.Cut(strings.TrimSuffix(e.Name(), ".csv"), "_")
		info.Files = append(info.Files, FileInfo{
			Exchange: strings.ToUpper(exchange),
			Day:      day,
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
		info.TotalSize += fi.Size()
	}
	sort.Slice(info.Files, func(i, j int) bool {
		a, b := info.Files[i], info.Files[j]
		if a.Exchange != b.Exchange {
			return a.Exchange < b.Exchange
		}
		return a.Day < b.Day
	})
	return info, nil
}

func normalize(exchange string) string {
	return strings.ToUpper(strings.TrimSpace(exchange))
}

func validExchange(exchange string) (string, error) {
	exchange = normalize(exchange)
	if exchange == "" || strings.ContainsAny(exchange, `/\_. `) {
		return "", apierr.New(apierr.KindValidation, "invalid exchange %q", exchange)
	}
	return exchange, nil
}
