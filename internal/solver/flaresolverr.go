package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ytget/turkanime/internal/logger"
	"github.com/ytget/turkanime/pkg/client"
)

const (
	// EnvURL names the environment variable holding the solver endpoint.
	EnvURL = "FLARESOLVERR_URL"
	// DefaultURL is the endpoint of a locally running FlareSolverr.
	DefaultURL = "http://localhost:8191/v1"

	httpTimeout = 65 * time.Second
)

// FlareSolverr is a Solver backed by the FlareSolverr HTTP API.
type FlareSolverr struct {
	endpoint string
	http     *client.Client
	log      *logger.ComponentLogger
}

// NewFlareSolverr creates a client for endpoint; an empty endpoint falls back
// to $FLARESOLVERR_URL and then DefaultURL.
func NewFlareSolverr(endpoint string) *FlareSolverr {
	if endpoint == "" {
		endpoint = os.Getenv(EnvURL)
	}
	if endpoint == "" {
		endpoint = DefaultURL
	}
	return &FlareSolverr{
		endpoint: endpoint,
		http:     client.NewWith(client.Config{Timeout: httpTimeout, Retries: 1}),
		log:      logger.WithComponent(logger.ComponentSolver),
	}
}

// WithHTTPClient replaces the transport used to reach the solver.
func (f *FlareSolverr) WithHTTPClient(c *client.Client) *FlareSolverr {
	f.http = c
	return f
}

// Endpoint returns the solver URL.
func (f *FlareSolverr) Endpoint() string { return f.endpoint }

// Solve posts req to the solver. A non-"ok" envelope is returned together with
// an error carrying the solver's message.
func (f *FlareSolverr) Solve(ctx context.Context, req Request) (*Response, error) {
	if req.Cmd == "" {
		req.Cmd = CmdGet
	}
	if req.MaxTimeout <= 0 {
		req.MaxTimeout = int(DefaultMaxTimeout / time.Millisecond)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := f.http.Do(ctx, client.Request{
		Method: http.MethodPost,
		URL:    f.endpoint,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   payload,
	})
	if err != nil {
		f.log.Warn("solver unreachable", logger.Fields{"endpoint": f.endpoint, "error": err.Error()})
		return nil, fmt.Errorf("solver request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solver returned HTTP %d", resp.StatusCode)
	}
	var out Response
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode solver response: %w", err)
	}
	f.log.Debug("solver finished", logger.Fields{
		"cmd":      req.Cmd,
		"url":      req.URL,
		"status":   out.Status,
		"page":     out.Solution.Status,
		"cookies":  len(out.Solution.Cookies),
		"duration": time.Since(start).String(),
	})
	if out.Status != "ok" {
		return &out, fmt.Errorf("solver status %q: %s", out.Status, out.Message)
	}
	return &out, nil
}
