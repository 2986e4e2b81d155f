// Package unmask turns masked first-party player links into real stream
// URLs by exchanging the mask for sources with a CSRF token that is itself
// recovered from the obfuscated player script.
package unmask

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ytget/turkanime/errs"
	"github.com/ytget/turkanime/internal/lazy"
	"github.com/ytget/turkanime/internal/logger"
	"github.com/ytget/turkanime/origin/gateway"
)

// State is where a single unmask run ended.
type State int

const (
	NoToken State = iota
	TokenAcquired
	Unmasked
	Failed
)

func (s State) String() string {
	switch s {
	case NoToken:
		return "no-token"
	case TokenAcquired:
		return "token-acquired"
	case Unmasked:
		return "unmasked"
	default:
		return "failed"
	}
}

// Result describes one run. URL always holds something usable: the stream
// URL when State is Unmasked, otherwise the input.
type Result struct {
	URL   string
	State State
	Err   error
}

// Doer is the slice of the gateway the workflow needs.
type Doer interface {
	Do(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Workflow caches the CSRF token for all callers. Safe for concurrent use.
type Workflow struct {
	doer   Doer
	method string
	token  *lazy.Value[string]
	log    *logger.ComponentLogger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithSourcesMethod overrides the HTTP method used on the sources endpoint.
func WithSourcesMethod(method string) Option {
	return func(w *Workflow) { w.method = method }
}

// New creates a Workflow on top of d.
func New(d Doer, opts ...Option) *Workflow {
	w := &Workflow{
		doer:   d,
		method: http.MethodPost,
		log:    logger.WithComponent(logger.ComponentUnmask),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.token = lazy.New(w.acquire)
	return w
}

func (w *Workflow) acquire(ctx context.Context) (string, error) {
	resp, err := w.doer.Do(ctx, gateway.Request{Method: http.MethodGet, Path: PlayerScript})
	if err != nil {
		return "", errs.Wrap(errs.CodeFetchFailed, "GET "+PlayerScript, err)
	}
	token, err := TokenFromScript(string(resp.Body))
	if err != nil {
		return "", err
	}
	w.log.Debug("csrf token recovered", logger.Fields{"length": len(token)})
	return token, nil
}

// Token returns the cached CSRF token, recovering it on first use.
func (w *Workflow) Token(ctx context.Context) (string, error) {
	return w.token.Get(ctx)
}

// Invalidate drops the cached token.
func (w *Workflow) Invalidate() { w.token.Reset() }

// Run unmasks masked and reports how far it got.
func (w *Workflow) Run(ctx context.Context, masked string) Result {
	mask, ok := MaskSegment(masked)
	if !ok {
		return Result{URL: masked, State: NoToken, Err: fmt.Errorf("%q: %w", masked, errs.ErrInvalidReference)}
	}

	token, err := w.Token(ctx)
	if err != nil {
		w.log.Warn("csrf token unavailable", logger.Fields{"error": err.Error()})
		return Result{URL: masked, State: NoToken, Err: errors.Join(errs.ErrTokenUnavailable, err)}
	}

	resp, err := w.doer.Do(ctx, gateway.Request{
		Method: w.method,
		Path:   SourcesPath(mask),
		Header: http.Header{"Csrf-Token": {token}},
	})
	if err != nil {
		// The gateway reports a 403 it could not get past as blocked
		// connectivity, which is also how a rotated token is refused.
		if errors.Is(err, errs.ErrConnectivityBlocked) {
			w.Invalidate()
			w.log.Warn("sources blocked, token dropped", logger.Fields{"error": err.Error()})
		}
		return Result{URL: masked, State: Failed, Err: errors.Join(errs.ErrUnmaskFailed, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// A rotated token shows up as a rejected exchange.
		w.Invalidate()
		w.log.Warn("sources rejected, token dropped", logger.Fields{"status": resp.StatusCode})
		return Result{URL: masked, State: Failed, Err: fmt.Errorf("sources HTTP %d: %w", resp.StatusCode, errs.ErrUnmaskFailed)}
	}
	file, err := ParseSources(resp.Body)
	if err != nil {
		return Result{URL: masked, State: Failed, Err: errors.Join(errs.ErrUnmaskFailed, err)}
	}
	return Result{URL: file, State: Unmasked}
}

// Unmask returns the stream URL behind masked, or masked itself on any failure.
func (w *Workflow) Unmask(ctx context.Context, masked string) string {
	return w.Run(ctx, masked).URL
}
