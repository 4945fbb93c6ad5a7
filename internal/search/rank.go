package search

import (
	"sort"
	"strings"
)

// DefaultLimit caps the displayed result set.
const DefaultLimit = 20

// Row is one raw catalog row returned by the backend search.
type Row struct {
	Code string  `json:"code"`
	Name string  `json:"name"`
	UOM  string  `json:"uom"`
	Rate float64 `json:"rate"`
	Qty  float64 `json:"qty"`
	Desc string  `json:"desc,omitempty"`
}

// Item is one ranked, 1-based display row.
type Item struct {
	Index int      `json:"index"`
	Code  string   `json:"code"`
	Name  string   `json:"name"`
	UOM   string   `json:"uom"`
	Rate  float64  `json:"rate"`
	Qty   float64  `json:"qty"`
	Terms []string `json:"terms,omitempty"`
}

// InStock reports whether any quantity is available.
func (i Item) InStock() bool { return i.Qty > 0 }

type scored struct {
	row   Row
	score int
}

// Rank filters rows to those containing every query token in name, code or
// description, then orders survivors by stock and match strength. Ties keep
// backend order. Ranking is recomputed per call.
func Rank(rows []Row, query string, limit int) []Item {
	if limit <= 0 {
		limit = DefaultLimit
	}
	tokens := Tokenize(query)

	survivors := make([]scored, 0, len(rows))
	for _, row := range rows {
		name := FoldSymbols(row.Name)
		code := FoldSymbols(row.Code)
		desc := FoldSymbols(row.Desc)
		if !matchesAll(tokens, name, code, desc) {
			continue
		}
		survivors = append(survivors, scored{row: row, score: score(tokens, name, code, row.Qty)})
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].score > survivors[j].score
	})

	if len(survivors) > limit {
		survivors = survivors[:limit]
	}

	items := make([]Item, 0, len(survivors))
	for i, s := range survivors {
		uom := strings.TrimSpace(s.row.UOM)
		if uom == "" {
			uom = "Nos"
		}
		items = append(items, Item{
			Index: i + 1,
			Code:  s.row.Code,
			Name:  s.row.Name,
			UOM:   uom,
			Rate:  s.row.Rate,
			Qty:   s.row.Qty,
			Terms: append([]string(nil), tokens...),
		})
	}
	return items
}

func matchesAll(tokens []string, fields ...string) bool {
	for _, tok := range tokens {
		found := false
		for _, f := range fields {
			if strings.Contains(f, tok) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func score(tokens []string, name, code string, qty float64) int {
	total := 0
	if qty > 0 {
		total += 1000
	}
	nameWords := strings.Fields(name)
	for _, tok := range tokens {
		switch {
		case tok == code || containsWord(nameWords, tok):
			total += 50
		case strings.HasPrefix(code, tok) || hasWordPrefix(nameWords, tok):
			total += 20
		case strings.Contains(name, tok):
			total += 10
		case strings.Contains(code, tok):
			total += 8
		}
	}
	return total
}

func containsWord(words []string, tok string) bool {
	for _, w := range words {
		if w == tok {
			return true
		}
	}
	return false
}

func hasWordPrefix(words []string, tok string) bool {
	for _, w := range words {
		if strings.HasPrefix(w, tok) {
			return true
		}
	}
	return false
}
