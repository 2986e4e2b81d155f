package keys

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/robertkrimen/otto/ast"
	"github.com/robertkrimen/otto/parser"

	"github.com/ytget/turkanime/errs"
)

const (
	// EmbedPage bootstraps the embed player and references the bundle chain.
	EmbedPage = "/embed/#/url/"
	// DecryptMarker appears in the bundle that carries the AES routine.
	DecryptMarker = "'decrypt'"

	bundleMatchIndex = 1 // the second referenced bundle imports the crypto chunks
	tableSeparator   = "','"
	minTableEntries  = 2
)

var (
	bundleRefRegex = regexp.MustCompile(`/embed/js/embeds\..*?\.js`)
	bundleIDRegex  = regexp.MustCompile(`[a-z0-9]{16}`)
	tableRegex     = regexp.MustCompile(`function a\d_0x[\w]{1,4}\(\){var _0x\w{3,8}=\[(.*?)\];`)
	hexEscapeRegex = regexp.MustCompile(`\\x\d\d`)
)

// BundlePath returns the second embed bundle referenced by the bootstrap page.
func BundlePath(embedPage string) (string, error) {
	refs := bundleRefRegex.FindAllString(embedPage, -1)
	if len(refs) <= bundleMatchIndex {
		return "", errs.NewError(errs.CodeIndexOutOfRange, "embed page references too few bundles", len(refs))
	}
	return refs[bundleMatchIndex], nil
}

// BundleIDs lists the 16-character chunk identifiers a bundle imports, in
// source order.
func BundleIDs(bundle string) []string {
	return bundleIDRegex.FindAllString(bundle, -1)
}

// BundlePathForID builds the path of an imported chunk.
func BundlePathForID(id string) string {
	return "/embed/js/embeds." + id + ".js"
}

// HasDecryptLogic reports whether js contains the decrypt routine.
func HasDecryptLogic(js string) bool {
	return strings.Contains(js, DecryptMarker)
}

// TableEntries returns the obfuscator's string table from js. The fast path
// matches the table function with a regex; when the shape has drifted the
// bundle is parsed and the largest all-string array literal is used.
func TableEntries(js string) ([]string, error) {
	if m := tableRegex.FindStringSubmatch(js); m != nil {
		return splitTable(m[1]), nil
	}
	entries, err := tableFromAST(js)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// splitTable splits the raw list body on "','" and drops the outer quotes
// left on the first and last element.
func splitTable(raw string) []string {
	parts := strings.Split(raw, tableSeparator)
	parts[0] = strings.TrimPrefix(parts[0], "'")
	last := len(parts) - 1
	parts[last] = strings.TrimSuffix(parts[last], "'")
	return parts
}

type arrayCollector struct {
	best []string
}

func (c *arrayCollector) Enter(n ast.Node) ast.Visitor {
	arr, ok := n.(*ast.ArrayLiteral)
	if !ok || len(arr.Value) < minTableEntries || len(arr.Value) <= len(c.best) {
		return c
	}
	entries := make([]string, 0, len(arr.Value))
	for _, v := range arr.Value {
		s, ok := v.(*ast.StringLiteral)
		if !ok || len(s.Literal) < 2 {
			return c
		}
		// Keep source text (minus quotes) so escapes match the regex path.
		entries = append(entries, s.Literal[1:len(s.Literal)-1])
	}
	c.best = entries
	return c
}

func (c *arrayCollector) Exit(ast.Node) {}

func tableFromAST(js string) ([]string, error) {
	program, err := parser.ParseFile(nil, "", js, 0)
	if err != nil {
		return nil, errs.Wrap(errs.CodeParseFailed, "bundle is not parseable", err)
	}
	c := &arrayCollector{}
	ast.Walk(c, program)
	if c.best == nil {
		return nil, errs.NewError(errs.CodePatternNotFound, "string table not found")
	}
	return c.best, nil
}

// CollapsedLen is the length of s in code points with each \xNN escape
// counted as one character.
func CollapsedLen(s string) int {
	return utf8.RuneCountInString(hexEscapeRegex.ReplaceAllString(s, "?"))
}

// SelectKey picks the entry with the greatest collapsed length; the first
// one wins ties. Empty input yields "".
func SelectKey(entries []string) string {
	best, bestLen := "", -1
	for _, e := range entries {
		if l := CollapsedLen(e); l > bestLen {
			best, bestLen = e, l
		}
	}
	return best
}
