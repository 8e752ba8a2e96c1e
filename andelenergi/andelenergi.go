package andelenergi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/icodeforyou/elpris-go/types"
)

const DefaultBaseURL = "https://andelenergi.dk/"

type Options struct {
	BaseURL   string
	Region    string // "east" or "west"
	Tax       int    // 1 includes VAT
	ProductID string
	Timeout   time.Duration
	UserAgent string
}

// Client downloads the hourly price export for a Danish price region.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	opts       Options
}

func New(logger *slog.Logger, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		logger:     logger.With(slog.String("module", "andelenergi")),
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
	}
}

// URL of the CSV export covering day and the day after.
func (c *Client) URL(day time.Time) (string, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", c.opts.BaseURL, err)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	// The end date is exclusive, two days are needed to get tomorrow's 23:00.
	end := start.AddDate(0, 0, 2)

	q := u.Query()
	q.Set("obexport_format", "csv")
	q.Set("obexport_start", start.Format(time.DateOnly))
	q.Set("obexport_end", end.Format(time.DateOnly))
	q.Set("obexport_region", c.opts.Region)
	q.Set("obexport_tax", strconv.Itoa(c.opts.Tax))
	q.Set("obexport_product_id", c.opts.ProductID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchPrices returns today's and tomorrow's uncategorized price records,
// ascending by hour. Every failure wraps types.ErrFetch.
func (c *Client) FetchPrices(ctx context.Context, day time.Time) ([]types.PriceRecord, error) {
	u, err := c.URL(day)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrFetch, err)
	}
	c.logger.Debug("fetching prices", slog.String("url", u))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", types.ErrFetch, err)
	}
	req.Header.Set("Accept", "text/csv")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch prices: %w", types.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: unexpected status code: %d", types.ErrFetch, resp.StatusCode)
	}

	records, err := ParseCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrFetch, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no prices in export for %s", types.ErrFetch, day.Format(time.DateOnly))
	}

	c.logger.Debug("prices fetched",
		slog.Int("count", len(records)),
		slog.String("first", records[0].When.String()),
		slog.String("last", records[len(records)-1].When.String()))
	return records, nil
}
