package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"telprobe/internal/transport"
)

const nrqlDocument = `query($accountId: Int!, $nrql: Nrql!, $cursor: String) {
  actor {
    account(id: $accountId) {
      nrql(query: $nrql, cursor: $cursor) {
        results
        nextCursor
      }
    }
  }
}`

const defaultMaxPages = 10

// ErrMissingQueryKey is returned by New when no query key is configured.
var ErrMissingQueryKey = errors.New("query key is required")

// ErrRateLimitDeadline means the rate limiter cannot grant a request before ctx's deadline.
var ErrRateLimitDeadline = errors.New("no query slot before deadline")

// Options configure one query client.
// Params: endpoint, credential, account, timeouts, retry, paging, rate limit, observers.
// Returns: options for New.
type Options struct {
	Endpoint   string
	QueryKey   string
	AccountID  int64
	Timeout    time.Duration
	Retry      transport.Policy
	MaxPages   int
	RateLimit  float64
	Burst      int
	Logger     *slog.Logger
	Recorder   *transport.Recorder
	HTTPClient *http.Client
}

// Client runs NRQL queries wrapped in the GraphQL envelope.
// Params: created through New.
// Returns: client safe for concurrent use.
type Client struct {
	endpoint  string
	queryKey  string
	accountID int64
	maxPages  int
	limiter   *rate.Limiter
	caller    *transport.Caller
	logger    *slog.Logger
}

// New validates options and creates a query client.
// Params: opts client options.
// Returns: client or validation error.
func New(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("query endpoint %q must be an absolute URL", endpoint)
	}
	if strings.TrimSpace(opts.QueryKey) == "" {
		return nil, ErrMissingQueryKey
	}
	if opts.AccountID <= 0 {
		return nil, fmt.Errorf("query account id must be > 0, got %d", opts.AccountID)
	}

	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("client", "query")

	return &Client{
		endpoint:  endpoint,
		queryKey:  opts.QueryKey,
		accountID: opts.AccountID,
		maxPages:  maxPages,
		limiter:   limiter,
		logger:    logger,
		caller: &transport.Caller{
			Name:     "query",
			HTTP:     opts.HTTPClient,
			Policy:   opts.Retry,
			Timeout:  opts.Timeout,
			Logger:   logger,
			Recorder: opts.Recorder,
		},
	}, nil
}

// Run executes nrql and follows result cursors up to the page limit.
// Params: ctx cancellation; nrql query text.
// Returns: all rows (possibly empty) or a transport/QueryError failure.
func (c *Client) Run(ctx context.Context, nrql string) ([]Row, error) {
	if strings.TrimSpace(nrql) == "" {
		return nil, fmt.Errorf("nrql cannot be empty")
	}

	rows := []Row{}
	cursor := ""
	for page := 1; page <= c.maxPages; page++ {
		result, err := c.fetch(ctx, nrql, cursor)
		if err != nil {
			return nil, err
		}
		rows = append(rows, result.Rows...)
		if result.NextCursor == "" {
			c.logger.Debug("query completed", "rows", len(rows), "pages", page)
			return rows, nil
		}
		cursor = result.NextCursor
	}

	c.logger.Warn("query page limit reached", "pages", c.maxPages, "rows", len(rows))
	return rows, nil
}

// fetch requests and parses one page.
// Params: ctx cancellation; nrql query; cursor page cursor or empty for the first page.
// Returns: parsed page or error.
func (c *Client) fetch(ctx context.Context, nrql string, cursor string) (Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return Page{}, fmt.Errorf("run query: rate limit wait: %w", ctx.Err())
			}
			return Page{}, fmt.Errorf("run query: %w: %v", ErrRateLimitDeadline, err)
		}
	}

	payload, err := json.Marshal(requestBody(c.accountID, nrql, cursor))
	if err != nil {
		return Page{}, fmt.Errorf("encode query request: %w", err)
	}
	build := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("API-Key", c.queryKey)
		return req, nil
	}

	resp, _, err := c.caller.Do(ctx, "run query", build)
	if err != nil {
		return Page{}, err
	}
	page, err := ParseResponse(resp.Body)
	if err != nil {
		var queryErr *QueryError
		if errors.As(err, &queryErr) {
			c.logger.Error("query rejected", "messages", queryErr.Messages)
		}
		return Page{}, err
	}
	return page, nil
}

type queryRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func requestBody(accountID int64, nrql string, cursor string) queryRequest {
	var cursorValue any
	if cursor != "" {
		cursorValue = cursor
	}
	return queryRequest{
		Query: nrqlDocument,
		Variables: map[string]any{
			"accountId": accountID,
			"nrql":      nrql,
			"cursor":    cursorValue,
		},
	}
}
