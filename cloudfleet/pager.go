package cloudfleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Pager walks a paginated list endpoint one page at a time. It is finite and cannot be restarted:
//
//	p := client.Fetch(path, query)
//	for p.Next(ctx) {
//		for _, rec := range p.Records() { ... }
//	}
//	if err := p.Err(); err != nil { ... }
//
// Pages are requested lazily, so callers process a page before the next one is fetched.
type Pager struct {
	client  *Client
	path    string
	query   url.Values
	page    int
	nextURL string

	started bool
	done    bool
	wait    time.Duration
	records []json.RawMessage
	err     error
}

// Fetch returns a pager over path; query is copied and gets a page parameter starting at 1.
func (c *Client) Fetch(path string, query url.Values) *Pager {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	return &Pager{client: c, path: path, query: q, page: 1}
}

// FetchDomain lists d's records whose window column falls between start and end.
func (c *Client) FetchDomain(d Domain, start, end time.Time) (*Pager, error) {
	spec, err := specFor(d)
	if err != nil {
		return nil, err
	}
	return c.Fetch(spec.Path, spec.windowQuery(start, end)), nil
}

// Next fetches the next page. It returns false once the last page was consumed or on error.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}
	if p.started {
		if p.wait > 0 {
			p.client.logger.WithFields(logrus.Fields{
				"path":     p.path,
				"page":     p.page,
				"wait_sec": p.wait.Seconds(),
			}).Info("cloudfleet rate limit reached, waiting for reset")
			if err := p.client.sleeper.Sleep(ctx, p.wait); err != nil {
				p.err = err
				return false
			}
		}
		if err := p.client.sleeper.Sleep(ctx, p.client.pageDelay); err != nil {
			p.err = err
			return false
		}
	}
	p.started = true

	target := p.nextURL
	if target == "" {
		q := url.Values{}
		for k, v := range p.query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(p.page))
		target = p.client.endpoint(p.path, q)
	}

	body, headers, err := p.client.get(ctx, target)
	if err != nil {
		p.err = err
		return false
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		p.err = fmt.Errorf("cloudfleet: decode page %d of %s: %w", p.page, p.path, err)
		return false
	}

	meta := parsePageMeta(headers)
	p.records = records
	p.wait = meta.throttle()
	p.nextURL = meta.NextURL
	p.done = !meta.HasNext

	p.client.logger.WithFields(logrus.Fields{
		"path":    p.path,
		"page":    p.page,
		"records": len(records),
	}).Debug("cloudfleet page fetched")

	p.page++
	return true
}

// Records returns the records of the page fetched by the last successful Next.
func (p *Pager) Records() []json.RawMessage {
	return p.records
}

func (p *Pager) Err() error {
	return p.err
}

// Drain collects every remaining page.
func (p *Pager) Drain(ctx context.Context) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for p.Next(ctx) {
		all = append(all, p.Records()...)
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	return all, nil
}
