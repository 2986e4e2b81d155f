package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/Noooste/azuretls-client"

	"github.com/ytget/turkanime/pkg/client"
)

// browserHeaders are sent on every impersonated request unless overridden.
var browserHeaders = [][2]string{
	{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	{"Accept-Language", "tr-TR,tr;q=0.9,en;q=0.8"},
	{"Upgrade-Insecure-Requests", "1"},
}

var browsers = map[string]string{
	"chrome":  azuretls.Chrome,
	"firefox": azuretls.Firefox,
	"safari":  azuretls.Safari,
	"edge":    azuretls.Edge,
	"opera":   azuretls.Opera,
}

// NewAzureImpersonator returns an ImpersonateFunc backed by azuretls sessions.
// proxy may be empty.
func NewAzureImpersonator(proxy string) ImpersonateFunc {
	return func(profile string) (Doer, error) {
		browser, ok := browsers[profile]
		if !ok {
			return nil, errors.New("unknown impersonation profile: " + profile)
		}
		s := azuretls.NewSession()
		s.Browser = browser
		s.SetTimeout(requestTimeout)
		if proxy != "" {
			if err := s.SetProxy(proxy); err != nil {
				s.Close()
				return nil, err
			}
		}
		return &azureDoer{session: s}, nil
	}
}

type azureDoer struct {
	session *azuretls.Session
}

func (d *azureDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	areq := &azuretls.Request{
		Method:         req.Method,
		Url:            req.URL,
		OrderedHeaders: orderedHeaders(req.Header),
		TimeOut:        req.Timeout,
	}
	if areq.Method == "" {
		areq.Method = http.MethodGet
	}
	if req.Body != nil {
		areq.Body = req.Body
	}
	resp, err := d.session.Do(areq)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, URL: resp.Url, Body: resp.Body}, nil
}

func (d *azureDoer) Close() error {
	d.session.Close()
	return nil
}

// orderedHeaders puts browser defaults first, then caller headers sorted by name.
func orderedHeaders(h http.Header) azuretls.OrderedHeaders {
	out := azuretls.OrderedHeaders{}
	for _, kv := range browserHeaders {
		if h.Get(kv[0]) == "" {
			out = append(out, []string{kv[0], kv[1]})
		}
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			out = append(out, []string{k, v})
		}
	}
	return out
}

// PlainDoer adapts the stock HTTP client to Doer.
type PlainDoer struct {
	c *client.Client
}

// NewPlainDoer wraps c.
func NewPlainDoer(c *client.Client) *PlainDoer { return &PlainDoer{c: c} }

// Do implements Doer.
func (p *PlainDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	resp, err := p.c.Do(ctx, client.Request{
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header,
		Body:   req.Body,
	})
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, URL: resp.URL, Body: resp.Body}, nil
}
