// Package search tokenizes voice queries and ranks catalog rows for display.
package search

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var symbolReplacer = strings.NewReplacer(
	"½", " 1/2 ",
	"¼", " 1/4 ",
	"¾", " 3/4 ",
	"”", `"`,
	"“", `"`,
	"″", `"`,
	"′", "'",
	"º", "",
	"°", "",
)

// Fold strips diacritics, lower-cases, and collapses whitespace.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// FoldSymbols applies Fold after rewriting fraction and quote glyphs to ASCII.
func FoldSymbols(s string) string {
	return Fold(symbolReplacer.Replace(s))
}

var (
	unitRules = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`\bmilimetros?\b`), "mm"},
		{regexp.MustCompile(`\btres\s+cuartos\b`), " 3/4 "},
		{regexp.MustCompile(`\bun\s+cuarto\b`), " 1/4 "},
		{regexp.MustCompile(`\b(media|medio)\s+pulg(adas?)?\b`), " 1/2 in "},
		{regexp.MustCompile(`\bpulgadas?\b`), "in"},
	}
	nonQueryChars = regexp.MustCompile(`[^a-z0-9/."\s-]`)
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`de del la el los las un una unos unas y o a en por para
		porfavor favor porf porfa porfis ahora mostrame mostrar muestrame quiero busca buscar buscame
		hay algun alguna algunas algunos esto eso estos esas esos aca aqui alli tenes tenemos`) {
		stopwords[w] = struct{}{}
	}
}

// Tokenize normalizes a query into match tokens: folded, unit-normalized,
// stopword-free and singularized.
func Tokenize(query string) []string {
	q := FoldSymbols(query)
	for _, rule := range unitRules {
		q = rule.re.ReplaceAllString(q, rule.repl)
	}
	q = nonQueryChars.ReplaceAllString(q, " ")

	fields := strings.Fields(q)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".-")
		if f == "" {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, singularize(f))
	}
	return tokens
}

var singularExceptions = map[string]struct{}{"mm": {}, "cm": {}, "m": {}, "in": {}, "ips": {}}

func singularize(t string) string {
	if _, ok := singularExceptions[t]; ok {
		return t
	}
	if isDigits(t) {
		return t
	}
	if len(t) > 4 && strings.HasSuffix(t, "es") {
		return t[:len(t)-2]
	}
	if len(t) > 3 && strings.HasSuffix(t, "s") {
		return t[:len(t)-1]
	}
	return t
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
