package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlareSolverr_Solve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, CmdGet, req.Cmd)
		assert.Equal(t, "https://www.turkanime.co/", req.URL)
		assert.Equal(t, 60000, req.MaxTimeout)
		assert.Equal(t, []Cookie{{Name: "cf_clearance", Value: "old"}}, req.Cookies)
		_ = json.NewEncoder(w).Encode(Response{
			Status: "ok",
			Solution: Solution{
				URL:       "https://www.turkanime.co/",
				Status:    200,
				Response:  "<html>home</html>",
				Cookies:   []Cookie{{Name: "cf_clearance", Value: "abc", Domain: ".turkanime.co", Path: "/"}},
				UserAgent: "Mozilla/5.0 Solver",
			},
		})
	}))
	defer server.Close()

	resp, err := NewFlareSolverr(server.URL).Solve(context.Background(), Request{
		URL:     "https://www.turkanime.co/",
		Cookies: []Cookie{{Name: "cf_clearance", Value: "old"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "Mozilla/5.0 Solver", resp.Solution.UserAgent)
	assert.Equal(t, "cf_clearance=abc", CookieHeader(resp.Solution.Cookies))
}

func TestFlareSolverr_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","message":"Challenge not solved"}`))
	}))
	defer server.Close()

	resp, err := NewFlareSolverr(server.URL).Solve(context.Background(), Request{Cmd: CmdPost, URL: "https://x/sources/1/false"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Challenge not solved")
	assert.False(t, resp.OK())
}

func TestFlareSolverr_EndpointFromEnv(t *testing.T) {
	t.Setenv(EnvURL, "http://solver.internal:8191/v1")
	assert.Equal(t, "http://solver.internal:8191/v1", NewFlareSolverr("").Endpoint())
	t.Setenv(EnvURL, "")
	assert.Equal(t, DefaultURL, NewFlareSolverr("").Endpoint())
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"off": Off, "AUTO": Auto, "": Auto, "force": Force} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "force", Force.String())
}

func TestCookies(t *testing.T) {
	merged := MergeCookies(
		[]Cookie{{Name: "a", Value: "1", Domain: "d"}, {Name: "b", Value: "2", Domain: "d"}},
		[]Cookie{{Name: "a", Value: "3", Domain: "d"}, {Name: "c", Value: "4", Domain: "d"}},
	)
	assert.Equal(t, "a=3; b=2; c=4", CookieHeader(merged))

	expired := float64(time.Now().Add(-time.Hour).Unix())
	assert.Equal(t, "b=2", CookieHeader([]Cookie{{Name: "a", Value: "1", Expires: expired}, {Name: "b", Value: "2"}}))

	hc := ToHTTPCookies([]Cookie{{Name: "cf_clearance", Value: "v", Domain: ".x", Path: "/", Expires: 1700000000, Secure: true}})
	require.Len(t, hc, 1)
	assert.Equal(t, "cf_clearance", hc[0].Name)
	assert.True(t, hc[0].Secure)
	assert.Equal(t, int64(1700000000), hc[0].Expires.Unix())
}
