// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package maxcdn provides a client for the certificate API of a
// MaxCDN style CDN. Certificates are listed via GET {base}/{alias}/ssl.json
// and replaced via PUT {base}/{alias}/ssl.json/{id}.
package maxcdn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloudeng.io/certsync"
	"cloudeng.io/certsync/reconcile"
	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the base URL of the MaxCDN REST API.
const DefaultBaseURL = "https://rws.maxcdn.com"

// ErrUnavailable is returned when calls to the CDN are suspended
// following repeated failures.
var ErrUnavailable = reconcile.ErrUnavailable

// Authorizer is called to add credentials to every request.
type Authorizer func(req *http.Request) error

// HeaderAuthorizer returns an Authorizer that sets the specified header.
func HeaderAuthorizer(header, value string) Authorizer {
	return func(req *http.Request) error {
		req.Header.Set(header, value)
		return nil
	}
}

// Option represents an option for NewClient.
type Option func(o *options)

type options struct {
	httpClient       *http.Client
	authorizer       Authorizer
	requestTimeout   time.Duration
	rateLimit        rate.Limit
	burst            int
	failureThreshold uint32
	openTimeout      time.Duration
	requestMetric    certsync.CounterVecInc
}

// WithHTTPClient sets the http.Client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithAuthorizer sets the Authorizer used to add credentials to requests.
func WithAuthorizer(authorizer Authorizer) Option {
	return func(o *options) {
		o.authorizer = authorizer
	}
}

// WithRequestTimeout sets the timeout for each request, the default
// is 30 seconds.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = timeout
	}
}

// WithRateLimit limits the rate at which requests are made. The
// default is unlimited.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = rate.Limit(requestsPerSecond)
		o.burst = max(burst, 1)
	}
}

// WithCircuitBreaker configures the number of consecutive failures
// after which requests are suspended, and for how long. The
// defaults are 5 failures and 1 minute.
func WithCircuitBreaker(failures int, openTimeout time.Duration) Option {
	return func(o *options) {
		o.failureThreshold = uint32(max(failures, 1)) //nolint:gosec
		o.openTimeout = openTimeout
	}
}

// WithRequestMetric configures the client to increment the provided
// metric for every request with the labels: operation, status.
func WithRequestMetric(metric certsync.CounterVecInc) Option {
	return func(o *options) {
		o.requestMetric = metric
	}
}

// Client implements reconcile.CDN.
type Client struct {
	endpoint *url.URL
	opts     options
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

var _ reconcile.CDN = (*Client)(nil)

// NewClient returns a client for the account identified by alias
// using the API at baseURL. DefaultBaseURL is used if baseURL is empty.
func NewClient(baseURL, alias string, opts ...Option) (*Client, error) {
	if len(alias) == 0 {
		return nil, fmt.Errorf("maxcdn: no alias specified")
	}
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	u = u.JoinPath(alias, "ssl.json")

	c := &Client{endpoint: u}
	c.opts.requestTimeout = 30 * time.Second
	c.opts.rateLimit = rate.Inf
	c.opts.burst = 1
	c.opts.failureThreshold = 5
	c.opts.openTimeout = time.Minute
	c.opts.requestMetric = certsync.NoopCounterVec
	for _, fn := range opts {
		fn(&c.opts)
	}
	if c.opts.httpClient == nil {
		c.opts.httpClient = &http.Client{}
	}
	c.limiter = rate.NewLimiter(c.opts.rateLimit, c.opts.burst)
	threshold := c.opts.failureThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "maxcdn:" + alias,
		MaxRequests: 1,
		Timeout:     c.opts.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Requests rejected by the CDN do not trip the breaker.
			var remote *reconcile.RemoteError
			return err == nil || (errors.As(err, &remote) && remote.Code < http.StatusInternalServerError)
		},
	})
	return c, nil
}

// ValidateBaseURL returns an error if baseURL is not an http or https
// URL. An empty baseURL is valid and refers to DefaultBaseURL.
func ValidateBaseURL(baseURL string) error {
	_, err := parseBaseURL(baseURL)
	return err
}

func parseBaseURL(baseURL string) (*url.URL, error) {
	if len(baseURL) == 0 {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("maxcdn: invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("maxcdn: invalid base url %q: unsupported scheme", baseURL)
	}
	return u, nil
}

// List implements reconcile.CDN.
func (c *Client) List(ctx context.Context) ([]reconcile.Record, error) {
	body, err := c.call(ctx, "list", http.MethodGet, c.endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.remoteError()
	}
	if resp.Code != http.StatusOK || resp.Data == nil {
		return nil, fmt.Errorf("maxcdn: list: code %v: %w", resp.Code, reconcile.ErrUnexpectedResponse)
	}
	records := make([]reconcile.Record, 0, len(resp.Data.Certificates))
	for i, cert := range resp.Data.Certificates {
		id, err := cert.id()
		if err != nil {
			return nil, fmt.Errorf("maxcdn: list: certificate %v: %w", i, err)
		}
		records = append(records, reconcile.Record{
			ID:       id,
			Domain:   cert.Domain,
			Cert:     cert.Cert,
			CABundle: cert.CABundle,
		})
	}
	return records, nil
}

// Update implements reconcile.CDN.
func (c *Client) Update(ctx context.Context, id string, upload reconcile.Upload) error {
	form := url.Values{}
	form.Set("ssl_crt", upload.Cert)
	form.Set("ssl_key", upload.Key)
	form.Set("ssl_cabundle", upload.CABundle)
	body, err := c.call(ctx, "update", http.MethodPut, c.endpoint.JoinPath(id).String(), form)
	if err != nil {
		return err
	}
	resp, err := decodeResponse(body)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.remoteError()
	}
	if resp.Code != http.StatusOK {
		return fmt.Errorf("maxcdn: update %v: code %v: %w", id, resp.Code, reconcile.ErrUnexpectedResponse)
	}
	return nil
}

// call makes a single request, subject to the rate limiter and circuit
// breaker, and returns the response body. Responses other than server
// errors are returned for decoding regardless of their status code since
// the CDN reports errors in the body.
func (c *Client) call(ctx context.Context, op, method, u string, form url.Values) ([]byte, error) {
	logger := ctxlog.Logger(ctx).With("component", "maxcdn", "op", op, "method", method, "url", u)
	if err := c.limiter.Wait(ctx); err != nil {
		c.opts.requestMetric(ctx, op, "rate_limited")
		return nil, fmt.Errorf("maxcdn: %v: %w", op, err)
	}
	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, method, u, form)
	})
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "unavailable"
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		c.opts.requestMetric(ctx, op, status)
		logger.Warn("request failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("maxcdn: %v: %w", op, err)
	}
	c.opts.requestMetric(ctx, op, "ok")
	logger.Debug("request complete", "duration", time.Since(start))
	return result.([]byte), nil
}

func (c *Client) do(ctx context.Context, method, u string, form url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout)
	defer cancel()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.opts.authorizer != nil {
		if err := c.opts.authorizer(req); err != nil {
			return nil, fmt.Errorf("failed to authorize request: %w", err)
		}
	}
	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%v: empty response: %w", resp.Status, reconcile.ErrUnexpectedResponse)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		if r, err := decodeResponse(data); err == nil && r.Error != nil {
			return nil, r.remoteError()
		}
		return nil, fmt.Errorf("%v: %w", resp.Status, reconcile.ErrUnexpectedResponse)
	}
	return data, nil
}
