package interpret

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rbright/posvoice/internal/search"
)

var spelledNumbers = map[string]int{
	"cero": 0, "uno": 1, "una": 1, "dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"seis": 6, "siete": 7, "ocho": 8, "nueve": 9, "diez": 10, "once": 11, "doce": 12,
	"trece": 13, "catorce": 14, "quince": 15, "dieciseis": 16, "diecisiete": 17,
	"dieciocho": 18, "diecinueve": 19, "veinte": 20, "veintiuno": 21, "veintidos": 22,
	"veintitres": 23, "veinticuatro": 24, "veinticinco": 25, "veintiseis": 26,
	"veintisiete": 27, "veintiocho": 28, "veintinueve": 29,
	"treinta": 30, "cuarenta": 40, "cincuenta": 50, "sesenta": 60,
	"setenta": 70, "ochenta": 80, "noventa": 90,
}

var ordinals = map[string]int{
	"primero": 1, "primera": 1, "segundo": 2, "segunda": 2, "tercero": 3,
	"tercera": 3, "cuarto": 4, "cuarta": 4, "quinto": 5, "quinta": 5,
}

var (
	fractionPhrases = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`\btres\s+cuartos\b`), " 3/4 "},
		{regexp.MustCompile(`\bun\s+cuarto\b`), " 1/4 "},
		{regexp.MustCompile(`\b(media|medio)\s+pulgadas?\b`), " 1/2 in "},
	}
	tensAndUnits = regexp.MustCompile(`\b(treinta|cuarenta|cincuenta|sesenta|setenta|ochenta|noventa)\s+y\s+(uno|una|dos|tres|cuatro|cinco|seis|siete|ocho|nueve)\b`)
	asrFixes     = regexp.MustCompile(`\b(canon|canyo)\b`)
	nonCommand   = regexp.MustCompile(`[^a-z0-9/.\s"'-]`)
	edgePunct    = regexp.MustCompile(`(^[\s.,;:'-]+)|([\s.,;:'-]+$)`)
)

// Normalize folds an utterance into the form the local rules match against:
// lower-case, no diacritics, spelled numbers and ordinals as digits, and
// trailing punctuation trimmed.
func Normalize(text string) string {
	s := nonCommand.ReplaceAllString(search.FoldSymbols(text), " ")
	for _, rule := range fractionPhrases {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	s = tensAndUnits.ReplaceAllStringFunc(s, func(m string) string {
		parts := tensAndUnits.FindStringSubmatch(m)
		return " " + strconv.Itoa(spelledNumbers[parts[1]]+spelledNumbers[parts[2]]) + " "
	})

	fields := strings.Fields(s)
	for i, tok := range fields {
		core := strings.Trim(tok, ".'-")
		if n, ok := ordinals[core]; ok {
			fields[i] = strconv.Itoa(n)
			continue
		}
		if n, ok := spelledNumbers[core]; ok {
			fields[i] = strconv.Itoa(n)
			continue
		}
		if core == "media" || core == "medio" {
			fields[i] = "0.5"
		}
	}
	s = asrFixes.ReplaceAllString(strings.Join(fields, " "), "cano")
	return edgePunct.ReplaceAllString(s, "")
}

var (
	indexPattern    = regexp.MustCompile(`\b(?:items?|numero|num|el|la)\s*(?:numero\s*)?(\d{1,3})\b`)
	qtyAbsPattern   = regexp.MustCompile(`\b(?:cantidad|dejalo en|deja en|poner cantidad|pone cantidad|pone en|ajusta a|ajustar a)\s*(\d+)\b`)
	qtySetPattern   = regexp.MustCompile(`\b(?:agregado|agrega(?:r|do)?|puesto|pone(?:r|do)?)\s*a\s*(\d+)\b`)
	qtyUnitsPattern = regexp.MustCompile(`\b(?:a\s*)?(\d+)\s*unidad(?:es)?\b`)
	qtyAddPattern   = regexp.MustCompile(`\b(?:agrega(?:r|me|lo|la)?|agregame|pone|poner|suma(?:r|lo)?|anadi(?:r)?|inclui(?:r)?)\b(?:.*?)\b(\d+)\b`)
	deltaPlus       = regexp.MustCompile(`\b(?:sumale|agregale|aumenta|subi|subile)\s*(\d+)\b`)
	deltaMinus      = regexp.MustCompile(`\b(?:sacale|quitale|disminui|baja|bajale|restale|restar)\s*(\d+)\b`)
)

// parseIndex extracts a 1-based index phrase ("item 2", "el 3", "numero 4").
func parseIndex(n string) (int, bool) {
	m := indexPattern.FindStringSubmatch(n)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// stripIndex removes the index phrase so its digits are not read as a quantity.
func stripIndex(n string) string {
	return strings.Join(strings.Fields(indexPattern.ReplaceAllString(n, " ")), " ")
}

type qtyOps struct {
	abs   int
	plus  int
	minus int
}

func (q qtyOps) hasAbs() bool   { return q.abs > 0 }
func (q qtyOps) hasDelta() bool { return q.plus > 0 || q.minus > 0 }

// parseQty reads absolute quantities and +/- deltas from text with the index
// phrase already removed.
func parseQty(n string) qtyOps {
	var ops qtyOps
	for _, re := range []*regexp.Regexp{qtyAbsPattern, qtySetPattern, qtyUnitsPattern} {
		if m := re.FindStringSubmatch(n); m != nil {
			ops.abs, _ = strconv.Atoi(m[1])
			break
		}
	}
	if m := deltaPlus.FindStringSubmatch(n); m != nil {
		ops.plus, _ = strconv.Atoi(m[1])
	}
	if m := deltaMinus.FindStringSubmatch(n); m != nil {
		ops.minus, _ = strconv.Atoi(m[1])
	}
	if ops.abs == 0 && !ops.hasDelta() {
		if m := qtyAddPattern.FindStringSubmatch(n); m != nil {
			ops.abs, _ = strconv.Atoi(m[1])
		}
	}
	return ops
}
