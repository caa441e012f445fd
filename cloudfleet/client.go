package cloudfleet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"github.com/sirupsen/logrus"
)

const (
	headerNextPage           = "X-NextPage"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"

	maxErrorBodyBytes = 2048
)

// Client talks to the CloudFleet REST API with a bearer token.
type Client struct {
	BaseURL    string
	apiKey     string
	httpClient *http.Client
	sleeper    Sleeper
	pageDelay  time.Duration
	vehicles   VehicleCache
	logger     *logrus.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

func WithClientSleeper(s Sleeper) ClientOption {
	return func(c *Client) { c.sleeper = s }
}

func WithVehicleCache(vc VehicleCache) ClientOption {
	return func(c *Client) { c.vehicles = vc }
}

func NewClient(opts config.SyncOptions, options ...ClientOption) *Client {
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		BaseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		sleeper:    timerSleeper{},
		pageDelay:  opts.PageDelay,
		vehicles:   redisVehicleCache{},
		logger:     config.GetLogger(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// pageMeta is what the list endpoints report through response headers.
type pageMeta struct {
	HasNext            bool
	NextURL            string
	RateLimitRemaining int
	RateLimitReset     time.Duration
	HasRateLimit       bool
}

func parsePageMeta(h http.Header) pageMeta {
	meta := pageMeta{}
	if next := strings.TrimSpace(h.Get(headerNextPage)); next != "" {
		meta.HasNext = true
		if u, err := url.Parse(next); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			meta.NextURL = next
		}
	}
	if v := strings.TrimSpace(h.Get(headerRateLimitRemaining)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			meta.RateLimitRemaining = n
			meta.HasRateLimit = true
		}
	}
	if v := strings.TrimSpace(h.Get(headerRateLimitReset)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			meta.RateLimitReset = time.Duration(n) * time.Second
		}
	}
	return meta
}

// throttle is how long to wait before the next request after a page with these headers.
func (m pageMeta) throttle() time.Duration {
	if m.HasRateLimit && m.RateLimitRemaining <= 0 {
		return m.RateLimitReset
	}
	return 0
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// get performs one authenticated GET and returns the body and headers of a 2xx response.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("cloudfleet: GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("cloudfleet: read %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return nil, nil, &UpstreamError{StatusCode: resp.StatusCode, URL: rawURL, Body: string(body)}
	}
	return body, resp.Header, nil
}
