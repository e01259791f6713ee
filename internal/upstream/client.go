// Package upstream talks to the paginated stream API. It builds stream URLs
// for each subject kind, fetches one page at a time behind the shared rate
// limiter and decodes the guarded JSON envelope into a Payload.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/enzosv/mediumcrawler/pkg/errors"
	applog "github.com/enzosv/mediumcrawler/pkg/logger"
	"github.com/enzosv/mediumcrawler/pkg/metrics"
	"github.com/enzosv/mediumcrawler/pkg/resilience"
)

const maxBodyBytes = 32 << 20

// Waiter gates each request. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// doner is implemented by waiters that space requests from the end of the
// previous one rather than its start.
type doner interface {
	Done()
}

type Client struct {
	http      *http.Client
	limiter   Waiter
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient returns a client that waits on limiter before every request.
// No request timeout is set; a hung fetch is bounded only by ctx.
func NewClient(limiter Waiter, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		limiter: limiter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage waits for a request slot, GETs url and decodes the page.
// Transport errors and non-2xx responses wrap ErrUpstream; undecodable
// bodies wrap ErrMalformedPayload.
func (c *Client) FetchPage(ctx context.Context, url string) (*Payload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if d, ok := c.limiter.(doner); ok {
		defer d.Done()
	}
	applog.FromContext(ctx).Debug("fetching", "component", "upstream-client", "url", url)

	start := time.Now()
	var payload *Payload
	fetch := func() error {
		var err error
		payload, err = c.do(ctx, url)
		return err
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(fetch)
	} else {
		err = fetch()
	}
	c.metrics.ObserveFetch(err, time.Since(start))
	if err != nil {
		if !apperrors.Transient(err) {
			err = fmt.Errorf("%w: %w", apperrors.ErrUpstream, err)
		}
		return nil, err
	}
	return payload, nil
}

func (c *Client) do(ctx context.Context, url string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %w", apperrors.ErrUpstream, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", apperrors.ErrUpstream, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: GET %s returned status %d", apperrors.ErrUpstream, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body of %s: %w", apperrors.ErrUpstream, url, err)
	}
	payload, err := ParsePayload(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	return payload, nil
}
