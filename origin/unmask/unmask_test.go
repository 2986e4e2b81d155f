package unmask

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/turkanime/errs"
	"github.com/ytget/turkanime/origin/cipher"
	"github.com/ytget/turkanime/internal/solver"
	"github.com/ytget/turkanime/origin/gateway"
)

const (
	rc4Key    = "kEy9"
	csrfToken = "ujzPdeIgxLdGncfBAepfJBdKhoOOLdKLzdocJisAjIhKtJRlgLKOmxgJ/Tw+"
)

func encodeCandidate(t *testing.T, plain string) string {
	t.Helper()
	enc := cipher.EncodeJSJiami(plain, rc4Key)
	require.True(t, len(enc) >= minCandidateLen && len(enc) <= maxCandidateLen,
		"candidate length %d out of range", len(enc))
	return enc
}

// decoys decode to text that is not token-shaped.
func decoys(t *testing.T) []string {
	return []string{
		encodeCandidate(t, "https://cdn.example/"+strings.Repeat("0123456789", 4)),
		encodeCandidate(t, strings.Repeat("a1", 30)),
		strings.Repeat("AbC1", 30),
		encodeCandidate(t, "player-config: {autoplay: true, volume: 0.8, lang: tr}"),
	}
}

func playerJS(cands []string) string {
	var b strings.Builder
	b.WriteString("var _0x4f2a = [")
	for _, c := range cands {
		fmt.Fprintf(&b, "'%s', ", c)
	}
	b.WriteString("'tail'];\n")
	b.WriteString("$.ajaxSetup({headers:{'csrf-token':_0x1c(0x1f,'" + rc4Key + "')}});\n")
	return b.String()
}

func TestIsTokenShape(t *testing.T) {
	assert.True(t, IsToken(csrfToken))
	assert.False(t, IsToken("abc123"))
	assert.False(t, IsToken(""))
}

func TestTokenFromScript_AnyPosition(t *testing.T) {
	valid := encodeCandidate(t, csrfToken)
	for pos := 0; pos <= 4; pos++ {
		cands := decoys(t)
		cands = append(cands[:pos], append([]string{valid}, cands[pos:]...)...)
		require.Len(t, cands, 5)

		js := playerJS(cands)
		assert.Len(t, Candidates(js), 5)
		tok, err := TokenFromScript(js)
		require.NoError(t, err, "position %d", pos)
		assert.Equal(t, csrfToken, tok)
	}
}

func TestTokenFromScript_Failures(t *testing.T) {
	_, err := TokenFromScript("var nothing = 1;")
	assert.True(t, errs.IsNotFound(err))

	_, err = TokenFromScript(playerJS(decoys(t)))
	assert.True(t, errs.IsNotFound(err))
}

func TestCandidates_ASTFallback(t *testing.T) {
	valid := encodeCandidate(t, csrfToken)
	js := "var a = '" + valid + "';\nvar k = {'csrf-token': f('" + rc4Key + "')};"
	assert.Empty(t, candidateRegex.FindAllString(js, -1))
	assert.Equal(t, []string{valid}, Candidates(js))
	tok, err := TokenFromScript(js)
	require.NoError(t, err)
	assert.Equal(t, csrfToken, tok)
}

func TestMaskSegment(t *testing.T) {
	m, ok := MaskSegment("https://www.turkanime.co/player/UW1EN2VPcExLUXpi")
	assert.True(t, ok)
	assert.Equal(t, "UW1EN2VPcExLUXpi", m)
	m, _ = MaskSegment("https://x/player/a/player/b")
	assert.Equal(t, "a", m)
	_, ok = MaskSegment("https://other-site.com/video")
	assert.False(t, ok)

	assert.True(t, IsOriginPlayerURL("https://www.turkanime.co/player/abc"))
	assert.True(t, IsOriginPlayerURL("//TurkAnime.life/player/abc"))
	assert.False(t, IsOriginPlayerURL("https://mirror.example.net/player/abc"))
	assert.False(t, IsOriginPlayerURL("https://www.turkanime.co/anime/naruto"))
	assert.Equal(t, "/sources/abc/false", SourcesPath("abc"))
}

func TestParseSources(t *testing.T) {
	u, err := ParseSources([]byte(`{"response":{"sources":[{"file":"https://a/1.mp4"},{"file":"//alucard.stream/cdn/playlist/3S3C"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "https://alucard.stream/cdn/playlist/3S3C", u)

	for _, body := range []string{`nope`, `{"response":{"sources":[]}}`, `{"response":{"sources":[{"label":"x"}]}}`} {
		_, err := ParseSources([]byte(body))
		assert.True(t, errs.IsParse(err), body)
	}
}

type originStub struct {
	mu         sync.Mutex
	script     string
	status     int
	body       string
	scriptHits atomic.Int32
	calls      []gateway.Request
}

func (o *originStub) Do(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	o.mu.Lock()
	o.calls = append(o.calls, req)
	o.mu.Unlock()
	switch {
	case req.Path == PlayerScript:
		o.scriptHits.Add(1)
		return &gateway.Response{StatusCode: 200, Body: []byte(o.script)}, nil
	case strings.HasPrefix(req.Path, "/sources/"):
		if req.Header.Get("Csrf-Token") != csrfToken {
			return &gateway.Response{StatusCode: http.StatusForbidden}, nil
		}
		return &gateway.Response{StatusCode: o.status, Body: []byte(o.body)}, nil
	}
	return nil, errors.New("unexpected path " + req.Path)
}

func newStub(t *testing.T) *originStub {
	return &originStub{
		script: playerJS(append(decoys(t), encodeCandidate(t, csrfToken))),
		status: http.StatusOK,
		body:   `{"response":{"sources":[{"file":"//cdn.example/low.m3u8"},{"file":"//cdn.example/high.m3u8"}]}}`,
	}
}

func TestWorkflow_Unmask(t *testing.T) {
	stub := newStub(t)
	w := New(stub)

	res := w.Run(context.Background(), "https://www.turkanime.co/player/abc123")
	require.NoError(t, res.Err)
	assert.Equal(t, Unmasked, res.State)
	assert.Equal(t, "https://cdn.example/high.m3u8", res.URL)

	last := stub.calls[len(stub.calls)-1]
	assert.Equal(t, http.MethodPost, last.Method)
	assert.Equal(t, "/sources/abc123/false", last.Path)

	// Token is reused.
	assert.Equal(t, "https://cdn.example/high.m3u8", w.Unmask(context.Background(), "https://x/player/def"))
	assert.EqualValues(t, 1, stub.scriptHits.Load())
}

func TestWorkflow_NonPlayerURLNoIO(t *testing.T) {
	stub := newStub(t)
	res := New(stub).Run(context.Background(), "https://other-site.com/video")
	assert.Equal(t, "https://other-site.com/video", res.URL)
	assert.True(t, errors.Is(res.Err, errs.ErrInvalidReference))
	assert.Empty(t, stub.calls)
}

func TestWorkflow_MissingTokenReturnsInput(t *testing.T) {
	stub := newStub(t)
	stub.script = "console.log('no token here')"
	res := New(stub).Run(context.Background(), "https://turkanime.co/player/123")
	assert.Equal(t, "https://turkanime.co/player/123", res.URL)
	assert.Equal(t, NoToken, res.State)
	assert.True(t, errors.Is(res.Err, errs.ErrTokenUnavailable))
}

func TestWorkflow_RejectedExchangeDropsToken(t *testing.T) {
	stub := newStub(t)
	stub.status = http.StatusUnauthorized
	w := New(stub)

	assert.Equal(t, "https://turkanime.co/player/1", w.Unmask(context.Background(), "https://turkanime.co/player/1"))
	stub.status = http.StatusOK
	assert.Equal(t, "https://cdn.example/high.m3u8", w.Unmask(context.Background(), "https://turkanime.co/player/1"))
	assert.EqualValues(t, 2, stub.scriptHits.Load())
}

func TestWorkflow_MalformedSourcesReturnsInput(t *testing.T) {
	stub := newStub(t)
	stub.body = `<html>error</html>`
	res := New(stub).Run(context.Background(), "https://turkanime.co/player/9")
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, "https://turkanime.co/player/9", res.URL)
	assert.True(t, errors.Is(res.Err, errs.ErrUnmaskFailed))
}

func TestWorkflow_ConcurrentCallersShareToken(t *testing.T) {
	stub := newStub(t)
	w := New(stub)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got := w.Unmask(context.Background(), fmt.Sprintf("https://turkanime.co/player/m%d", i))
			assert.Equal(t, "https://cdn.example/high.m3u8", got)
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, stub.scriptHits.Load())
}

func TestWorkflow_SourcesMethodOption(t *testing.T) {
	stub := newStub(t)
	w := New(stub, WithSourcesMethod(http.MethodGet))
	w.Unmask(context.Background(), "https://turkanime.co/player/1")
	assert.Equal(t, http.MethodGet, stub.calls[len(stub.calls)-1].Method)
}

// rotatingOrigin serves player.js with the current token and refuses any
// other token on the sources endpoint with 403, as the origin does.
type rotatingOrigin struct {
	mu         sync.Mutex
	token      string
	script     string
	scriptHits int
	*httptest.Server
}

func newRotatingOrigin(t *testing.T, token string) *rotatingOrigin {
	o := &rotatingOrigin{}
	o.rotate(t, token)
	o.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		defer o.mu.Unlock()
		switch {
		case r.URL.Path == PlayerScript:
			o.scriptHits++
			_, _ = rw.Write([]byte(o.script))
		case strings.HasPrefix(r.URL.Path, "/sources/"):
			if r.Header.Get("Csrf-Token") != o.token {
				rw.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = rw.Write([]byte(`{"response":{"sources":[{"file":"//cdn.example/ep.m3u8"}]}}`))
		default:
			http.NotFound(rw, r)
		}
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *rotatingOrigin) rotate(t *testing.T, token string) {
	script := playerJS(append(decoys(t), encodeCandidate(t, token)))
	o.mu.Lock()
	o.token, o.script = token, script
	o.mu.Unlock()
}

func (o *rotatingOrigin) hits() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scriptHits
}

func TestWorkflow_TokenRotationThroughGateway(t *testing.T) {
	const rotated = "QpwLmnZxcvBNasdfGHJKlpoiuYTREwqaSDFghjkLZXCVbnmQWErtyUIOp/+a"
	require.True(t, IsToken(rotated))

	o := newRotatingOrigin(t, csrfToken)
	gw := gateway.New(
		gateway.WithImpersonator(nil),
		gateway.WithSolver(nil, solver.Off),
		gateway.WithMirrors(o.URL),
	)
	w := New(gw)
	ctx := context.Background()
	masked := "https://www.turkanime.co/player/a"

	res := w.Run(ctx, masked)
	require.NoError(t, res.Err)
	assert.Equal(t, "https://cdn.example/ep.m3u8", res.URL)

	o.rotate(t, rotated)
	res = w.Run(ctx, masked)
	assert.Equal(t, Failed, res.State)
	assert.True(t, errors.Is(res.Err, errs.ErrConnectivityBlocked))
	_, cached := w.token.Peek()
	assert.False(t, cached, "refused token must be dropped")

	res = w.Run(ctx, masked)
	require.NoError(t, res.Err)
	assert.Equal(t, Unmasked, res.State)
	assert.Equal(t, 2, o.hits())
	tok, err := w.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, rotated, tok)
}
