// Package gateway fetches pages from the CloudFlare-fronted origin.
//
// A Gateway lazily opens one session on first use, trying tiers in order:
// TLS/HTTP2 browser impersonation against each mirror and profile, then a
// remote challenge solver, then a plain HTTP client. Each request that still
// hits a challenge is retried once through the solver; only when that fails
// too does the gateway report errs.ErrConnectivityBlocked.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/ratelimit"

	"github.com/ytget/turkanime/errs"
	"github.com/ytget/turkanime/internal/lazy"
	"github.com/ytget/turkanime/internal/logger"
	"github.com/ytget/turkanime/internal/solver"
	"github.com/ytget/turkanime/pkg/client"
)

// Tier identifies how the session reaches the origin.
type Tier int

const (
	TierNone Tier = iota
	TierImpersonation
	TierSolver
	TierPlain
)

func (t Tier) String() string {
	switch t {
	case TierImpersonation:
		return "impersonation"
	case TierSolver:
		return "solver"
	case TierPlain:
		return "plain"
	default:
		return "none"
	}
}

const (
	probeTimeout   = 8 * time.Second
	requestTimeout = 15 * time.Second
)

// DefaultMirrors are probed in order during session init.
var DefaultMirrors = []string{
	"https://www.turkanime.co",
	"https://turkanime.co",
	"https://www.turkanime.life",
	"https://turkanime.life",
}

// DefaultProfiles are the browser fingerprints tried per mirror.
var DefaultProfiles = []string{"chrome", "firefox", "safari", "edge"}

var challengeMarkers = []string{
	"cf-browser-verification",
	"cf_chl_opt",
	"<title>just a moment...</title>",
}

// IsChallenge reports whether body is a CloudFlare interstitial.
func IsChallenge(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range challengeMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return true
		}
	}
	return false
}

// Request is a single origin request. Path is joined to the session base
// unless URL is set.
type Request struct {
	Method  string
	Path    string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is a buffered origin response.
type Response struct {
	StatusCode int
	URL        string
	Body       []byte
}

// Doer executes a request whose URL is absolute.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// ImpersonateFunc opens a fresh browser-impersonating Doer for a profile.
type ImpersonateFunc func(profile string) (Doer, error)

// Session is the established connection state shared by all requests.
type Session struct {
	Doer Doer
	Base string
	Tier Tier
}

// Gateway is safe for concurrent use.
type Gateway struct {
	mirrors     []string
	profiles    []string
	mode        solver.Mode
	solver      solver.Solver
	impersonate ImpersonateFunc
	plain       Doer
	limiter     ratelimit.Limiter
	probeTO     time.Duration
	requestTO   time.Duration
	log         *logger.ComponentLogger

	session *lazy.Value[*Session]
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMirrors replaces the probed base URLs.
func WithMirrors(mirrors ...string) Option {
	return func(g *Gateway) { g.mirrors = mirrors }
}

// WithProfiles replaces the impersonation profiles.
func WithProfiles(profiles ...string) Option {
	return func(g *Gateway) { g.profiles = profiles }
}

// WithSolver sets the remote solver and how it is used.
func WithSolver(s solver.Solver, mode solver.Mode) Option {
	return func(g *Gateway) { g.solver, g.mode = s, mode }
}

// WithImpersonator replaces the impersonation backend. nil disables tier 1.
func WithImpersonator(f ImpersonateFunc) Option {
	return func(g *Gateway) { g.impersonate = f }
}

// WithPlainDoer replaces the degraded-tier client.
func WithPlainDoer(d Doer) Option {
	return func(g *Gateway) { g.plain = d }
}

// WithRateLimit paces origin requests to rps per second; rps <= 0 is unlimited.
func WithRateLimit(rps int) Option {
	return func(g *Gateway) {
		if rps > 0 {
			g.limiter = ratelimit.New(rps)
		} else {
			g.limiter = ratelimit.NewUnlimited()
		}
	}
}

// WithTimeouts overrides the probe and per-request timeouts.
func WithTimeouts(probe, request time.Duration) Option {
	return func(g *Gateway) {
		if probe > 0 {
			g.probeTO = probe
		}
		if request > 0 {
			g.requestTO = request
		}
	}
}

// WithLogger sets the logger used for tier decisions.
func WithLogger(l *logger.Logger) Option {
	return func(g *Gateway) { g.log = l.WithComponent(logger.ComponentGateway) }
}

// New creates a Gateway. Without options it impersonates through azuretls,
// uses FlareSolverr at $FLARESOLVERR_URL in Auto mode, and falls back to a
// plain single-attempt client.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		mirrors:     DefaultMirrors,
		profiles:    DefaultProfiles,
		mode:        solver.Auto,
		solver:      solver.NewFlareSolverr(""),
		impersonate: NewAzureImpersonator(""),
		limiter:     ratelimit.NewUnlimited(),
		probeTO:     probeTimeout,
		requestTO:   requestTimeout,
		log:         logger.WithComponent(logger.ComponentGateway),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.plain == nil {
		g.plain = NewPlainDoer(client.NewWith(client.Config{Timeout: g.requestTO, Retries: 1}))
	}
	g.session = lazy.New(g.open)
	return g
}

// Session returns the established session, opening it on first use.
func (g *Gateway) Session(ctx context.Context) (*Session, error) {
	return g.session.Get(ctx)
}

// Tier returns the tier of the current session, opening it if needed.
func (g *Gateway) Tier(ctx context.Context) Tier {
	s, err := g.Session(ctx)
	if err != nil {
		return TierNone
	}
	return s.Tier
}

// Base returns the normalized origin of the current session.
func (g *Gateway) Base(ctx context.Context) (string, error) {
	s, err := g.Session(ctx)
	if err != nil {
		return "", err
	}
	return s.Base, nil
}

// Reset drops the session; the next request probes again.
func (g *Gateway) Reset() {
	if s, ok := g.session.Peek(); ok {
		closeDoer(s.Doer)
	}
	g.session.Reset()
}

func (g *Gateway) solverEnabled() bool {
	return g.solver != nil && g.mode != solver.Off
}

func (g *Gateway) open(ctx context.Context) (*Session, error) {
	if g.mode != solver.Force {
		if s := g.probeImpersonation(ctx); s != nil {
			return s, nil
		}
	}
	if g.solverEnabled() {
		if s := g.openSolverSession(ctx); s != nil {
			return s, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := DefaultMirrors[0]
	if len(g.mirrors) > 0 {
		base = strings.TrimRight(g.mirrors[0], "/")
	}
	g.log.Warn("challenge bypass unavailable, using plain client", logger.Fields{"base": base})
	// Seeded with nothing yet; a later per-request solve can add clearance.
	return &Session{Doer: &seededDoer{inner: g.plain}, Base: base, Tier: TierPlain}, nil
}

func (g *Gateway) probeImpersonation(ctx context.Context) *Session {
	if g.impersonate == nil {
		return nil
	}
	for _, mirror := range g.mirrors {
		for _, profile := range g.profiles {
			if ctx.Err() != nil {
				return nil
			}
			doer, err := g.impersonate(profile)
			if err != nil {
				g.log.Debug("impersonation unavailable", logger.Fields{"profile": profile, "error": err.Error()})
				continue
			}
			g.limiter.Take()
			resp, err := doer.Do(ctx, &Request{
				Method:  http.MethodGet,
				URL:     strings.TrimRight(mirror, "/") + "/",
				Timeout: g.probeTO,
			})
			if err == nil && resp.StatusCode == http.StatusOK && !IsChallenge(resp.Body) {
				base := resp.URL
				if base == "" {
					base = mirror
				}
				base = strings.TrimRight(base, "/")
				g.log.Info("session established", logger.Fields{"tier": TierImpersonation.String(), "base": base, "profile": profile})
				return &Session{Doer: doer, Base: base, Tier: TierImpersonation}
			}
			fields := logger.Fields{"mirror": mirror, "profile": profile}
			if err != nil {
				fields["error"] = err.Error()
			} else {
				fields["status"] = resp.StatusCode
			}
			g.log.Debug("probe rejected", fields)
			closeDoer(doer)
		}
	}
	return nil
}

func (g *Gateway) openSolverSession(ctx context.Context) *Session {
	mirror := strings.TrimRight(DefaultMirrors[0], "/")
	if len(g.mirrors) > 0 {
		mirror = strings.TrimRight(g.mirrors[0], "/")
	}
	resp, err := g.solver.Solve(ctx, solver.Request{Cmd: solver.CmdGet, URL: mirror + "/"})
	if err != nil || !resp.OK() || IsChallenge([]byte(resp.Solution.Response)) {
		fields := logger.Fields{"mirror": mirror}
		if err != nil {
			fields["error"] = err.Error()
		}
		g.log.Warn("solver could not clear challenge", fields)
		return nil
	}

	var inner Doer = g.plain
	if g.impersonate != nil {
		if d, err := g.impersonate("firefox"); err == nil {
			inner = d
		}
	}
	base := strings.TrimRight(resp.Solution.URL, "/")
	if base == "" {
		base = mirror
	}
	g.log.Info("session established", logger.Fields{
		"tier":    TierSolver.String(),
		"base":    base,
		"cookies": len(resp.Solution.Cookies),
	})
	return &Session{
		Doer: &seededDoer{
			inner:     inner,
			cookies:   resp.Solution.Cookies,
			userAgent: resp.Solution.UserAgent,
		},
		Base: base,
		Tier: TierSolver,
	}
}

// Do sends req through the session and falls back to the solver once when
// the origin answers 403, serves a challenge, or the transport fails.
func (g *Gateway) Do(ctx context.Context, req Request) (*Response, error) {
	sess, err := g.Session(ctx)
	if err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.URL == "" {
		path := req.Path
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		req.URL = sess.Base + path
	}
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header = header
	if req.Timeout <= 0 {
		req.Timeout = g.requestTO
	}

	g.limiter.Take()
	resp, err := sess.Doer.Do(ctx, &req)
	if err == nil && resp.StatusCode != http.StatusForbidden && !IsChallenge(resp.Body) {
		return resp, nil
	}
	reason := "challenge"
	if err != nil {
		reason = err.Error()
	} else if resp.StatusCode == http.StatusForbidden {
		reason = "403"
	}
	g.log.Debug("request blocked, retrying through solver", logger.Fields{"url": req.URL, "reason": reason})

	if g.solverEnabled() {
		seeded, _ := sess.Doer.(*seededDoer)
		if out := g.solveRequest(ctx, &req, seeded); out != nil {
			return out, nil
		}
	}
	g.log.Error("connectivity blocked", logger.Fields{"url": req.URL, "reason": reason})
	return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, errs.ErrConnectivityBlocked)
}

// solveRequest replays req through the solver. The session's cookies go
// along, and the clearance that comes back is merged into seeded so later
// requests pass without another solve.
func (g *Gateway) solveRequest(ctx context.Context, req *Request, seeded *seededDoer) *Response {
	sr := solver.Request{Cmd: solver.CmdGet, URL: req.URL}
	if req.Method == http.MethodPost {
		sr.Cmd = solver.CmdPost
		sr.PostData = string(req.Body)
	}
	if seeded != nil {
		sr.Cookies, _ = seeded.state()
	}
	resp, err := g.solver.Solve(ctx, sr)
	if err != nil || resp == nil || resp.Solution.Response == "" {
		return nil
	}
	if seeded != nil && len(resp.Solution.Cookies) > 0 {
		seeded.merge(resp.Solution.Cookies, resp.Solution.UserAgent)
		g.log.Debug("session cookies refreshed", logger.Fields{"cookies": len(resp.Solution.Cookies)})
	}
	status := resp.Solution.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{StatusCode: status, URL: resp.Solution.URL, Body: []byte(resp.Solution.Response)}
}

// Fetch GETs path relative to the session base and returns the body.
func (g *Gateway) Fetch(ctx context.Context, path string, header http.Header) (string, error) {
	resp, err := g.Do(ctx, Request{Method: http.MethodGet, Path: path, Header: header})
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// seededDoer replays solver clearance cookies and user agent. Both can be
// refreshed while requests are in flight.
type seededDoer struct {
	inner Doer

	mu        sync.RWMutex
	cookies   []solver.Cookie
	userAgent string
}

func (d *seededDoer) state() ([]solver.Cookie, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]solver.Cookie(nil), d.cookies...), d.userAgent
}

func (d *seededDoer) merge(fresh []solver.Cookie, userAgent string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookies = solver.MergeCookies(d.cookies, fresh)
	if userAgent != "" {
		d.userAgent = userAgent
	}
}

func (d *seededDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	cookies, userAgent := d.state()
	r := *req
	r.Header = req.Header.Clone()
	if r.Header == nil {
		r.Header = http.Header{}
	}
	if cookie := solver.CookieHeader(cookies); cookie != "" {
		r.Header.Set("Cookie", cookie)
	}
	if userAgent != "" {
		r.Header.Set("User-Agent", userAgent)
	}
	return d.inner.Do(ctx, &r)
}

func (d *seededDoer) Close() error {
	closeDoer(d.inner)
	return nil
}

func closeDoer(d Doer) {
	if c, ok := d.(io.Closer); ok {
		_ = c.Close()
	}
}
