// Package solver talks to a FlareSolverr-compatible challenge solver: a
// remote headless browser that loads a page, clears the CloudFlare check and
// hands back the body together with the clearance cookies and user agent.
package solver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Mode defines how the remote solver is used by the fetch gateway.
type Mode int

const (
	// Off disables the solver entirely.
	Off Mode = iota
	// Auto uses the solver when direct impersonation fails or a request is challenged.
	Auto
	// Force skips direct probing and starts every session through the solver.
	Force
)

// ParseMode parses "off", "auto" or "force".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "disabled":
		return Off, nil
	case "", "auto":
		return Auto, nil
	case "force", "always":
		return Force, nil
	}
	return Auto, errors.New("unknown solver mode: " + s)
}

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case Force:
		return "force"
	default:
		return "auto"
	}
}

// Commands understood by the solver.
const (
	CmdGet  = "request.get"
	CmdPost = "request.post"
)

// DefaultMaxTimeout is the in-browser budget requested from the solver.
const DefaultMaxTimeout = 60 * time.Second

// Request is one solver command.
type Request struct {
	Cmd        string   `json:"cmd"`
	URL        string   `json:"url"`
	MaxTimeout int      `json:"maxTimeout"`
	PostData   string   `json:"postData,omitempty"`
	Cookies    []Cookie `json:"cookies,omitempty"`
}

// Cookie is a browser cookie as reported by the solver.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Solution is the page state after the challenge was cleared.
type Solution struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Response  string   `json:"response"`
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"userAgent"`
}

// Response is the solver envelope.
type Response struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Solution Solution `json:"solution"`
}

// OK reports whether the solver reached the page with HTTP 200.
func (r *Response) OK() bool {
	return r != nil && r.Status == "ok" && r.Solution.Status == http.StatusOK
}

// Solver resolves a single request through a challenge-clearing browser.
type Solver interface {
	Solve(ctx context.Context, req Request) (*Response, error)
}

// ToHTTPCookies converts solver cookies to net/http cookies.
func ToHTTPCookies(cookies []Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// CookieHeader renders cookies as a Cookie request header value. Expired
// cookies are left out.
func CookieHeader(cookies []Cookie) string {
	now := time.Now()
	parts := make([]string, 0, len(cookies))
	for _, c := range ToHTTPCookies(cookies) {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// MergeCookies overlays fresh onto existing, replacing by name and domain.
func MergeCookies(existing, fresh []Cookie) []Cookie {
	out := make([]Cookie, 0, len(existing)+len(fresh))
	index := make(map[string]int, len(existing)+len(fresh))
	for _, list := range [][]Cookie{existing, fresh} {
		for _, c := range list {
			k := c.Name + "|" + c.Domain
			if i, ok := index[k]; ok {
				out[i] = c
				continue
			}
			index[k] = len(out)
			out = append(out, c)
		}
	}
	return out
}
