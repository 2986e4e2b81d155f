package unmask

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/robertkrimen/otto/ast"
	"github.com/robertkrimen/otto/parser"

	"github.com/ytget/turkanime/errs"
	"github.com/ytget/turkanime/origin/cipher"
)

const (
	// PlayerScript holds the encrypted CSRF token and its RC4 key.
	PlayerScript = "/js/player.js"

	playerMarker     = "/player/"
	originHostMarker = "turkanime"
	minCandidateLen  = 96
	maxCandidateLen  = 156
)

var (
	csrfKeyRegex   = regexp.MustCompile(`(?i)csrf-token':[^\n\)]+'([^']+)'\)`)
	candidateRegex = regexp.MustCompile(`'([a-zA-Z\d\+\/]{96,156})',`)
	candidateShape = regexp.MustCompile(`^[a-zA-Z\d\+\/]{96,156}$`)
	tokenRegex     = regexp.MustCompile(`^[a-zA-Z/\+]+$`)
)

// CSRFKey returns the RC4 key passed next to the csrf-token header name.
func CSRFKey(js string) (string, error) {
	m := csrfKeyRegex.FindStringSubmatch(js)
	if m == nil {
		return "", errs.NewError(errs.CodeTokenNotFound, "csrf key not found in player script")
	}
	return m[1], nil
}

// Candidates lists every string literal shaped like an encrypted token, in
// source order. When the regex finds none the script is parsed and string
// literals of the same shape are collected instead.
func Candidates(js string) []string {
	var out []string
	for _, m := range candidateRegex.FindAllStringSubmatch(js, -1) {
		out = append(out, m[1])
	}
	if len(out) > 0 {
		return out
	}
	return candidatesFromAST(js)
}

type literalCollector struct {
	out []string
}

func (c *literalCollector) Enter(n ast.Node) ast.Visitor {
	if s, ok := n.(*ast.StringLiteral); ok && candidateShape.MatchString(s.Value) {
		c.out = append(c.out, s.Value)
	}
	return c
}

func (c *literalCollector) Exit(ast.Node) {}

func candidatesFromAST(js string) []string {
	program, err := parser.ParseFile(nil, "", js, 0)
	if err != nil {
		return nil
	}
	c := &literalCollector{}
	ast.Walk(c, program)
	return c.out
}

// IsToken reports whether s has the shape of a decoded CSRF token.
func IsToken(s string) bool {
	return tokenRegex.MatchString(s)
}

// SelectToken decodes every candidate with key and returns the first result
// that looks like a token. The decoder is the oracle: wrong candidates decode
// to binary noise.
func SelectToken(candidates []string, key string) (string, error) {
	for _, ct := range candidates {
		if plain := cipher.DecodeJSJiami(ct, key); IsToken(plain) {
			return plain, nil
		}
	}
	return "", errs.NewError(errs.CodeTokenNotFound, "no candidate decoded to a token", len(candidates))
}

// TokenFromScript runs the whole recovery over player.js source.
func TokenFromScript(js string) (string, error) {
	key, err := CSRFKey(js)
	if err != nil {
		return "", err
	}
	cands := Candidates(js)
	if len(cands) == 0 {
		return "", errs.NewError(errs.CodeTokenNotFound, "no token candidates in player script")
	}
	return SelectToken(cands, key)
}

// MaskSegment returns the path fragment after "/player/".
func MaskSegment(masked string) (string, bool) {
	parts := strings.SplitN(masked, playerMarker, 3)
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// IsPlayerURL reports whether s carries a mask segment.
func IsPlayerURL(s string) bool {
	_, ok := MaskSegment(s)
	return ok
}

// IsOriginPlayerURL reports whether s is a player link served by the origin
// itself. Masks from other hosts mean nothing to the sources endpoint.
func IsOriginPlayerURL(s string) bool {
	if !IsPlayerURL(s) {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && strings.Contains(strings.ToLower(u.Hostname()), originHostMarker)
}

// SourcesPath is the endpoint that exchanges a mask for stream sources.
func SourcesPath(mask string) string {
	return "/sources/" + mask + "/false"
}

type sourcesEnvelope struct {
	Response struct {
		Sources []struct {
			File  string `json:"file"`
			Label string `json:"label,omitempty"`
			Type  string `json:"type,omitempty"`
		} `json:"sources"`
	} `json:"response"`
}

// ParseSources returns the file of the last source entry, with scheme-relative
// URLs upgraded to https.
func ParseSources(body []byte) (string, error) {
	var env sourcesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", errs.Wrap(errs.CodeSourcesMalformed, "sources response is not JSON", err)
	}
	srcs := env.Response.Sources
	if len(srcs) == 0 {
		return "", errs.NewError(errs.CodeSourcesMalformed, "sources list is empty")
	}
	file := srcs[len(srcs)-1].File
	if file == "" {
		return "", errs.NewError(errs.CodeSourcesMalformed, "last source has no file")
	}
	return SchemeFix(file), nil
}

// SchemeFix prefixes scheme-relative URLs with https.
func SchemeFix(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
