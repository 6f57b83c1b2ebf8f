package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Match picks the entry a query refers to. In order of preference:
//  1. the normalized name equals the query;
//  2. every query token prefixes some name token ("mini bobcat" -> "Minicargador Bobcat S70");
//     the entry with the fewest name tokens wins;
//  3. every name token appears in the query ("la Loader X por favor" -> "Loader X");
//     the entry with the most name tokens wins.
//
// Normalization folds case and strips accents. Ties keep catalog order.
func Match(entries []Entry, query string) (Entry, bool) {
	q := tokenize(query)
	if len(q) == 0 {
		return Entry{}, false
	}
	joined := strings.Join(q, " ")

	names := make([][]string, len(entries))
	for i, e := range entries {
		names[i] = tokenize(e.ModelName)
		if strings.Join(names[i], " ") == joined {
			return e, true
		}
	}

	best := -1
	for i, name := range names {
		if coversByPrefix(name, q) && (best < 0 || len(name) < len(names[best])) {
			best = i
		}
	}
	if best >= 0 {
		return entries[best], true
	}

	for i, name := range names {
		if len(name) > 0 && containsAll(q, name) && (best < 0 || len(name) > len(names[best])) {
			best = i
		}
	}
	if best >= 0 {
		return entries[best], true
	}
	return Entry{}, false
}

// coversByPrefix reports whether every query token is a prefix of some name token.
func coversByPrefix(name, query []string) bool {
	for _, qt := range query {
		found := false
		for _, nt := range name {
			if strings.HasPrefix(nt, qt) {
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

func containsAll(haystack, needles []string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, h := range haystack {
		set[h] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

func tokenize(s string) []string {
	return strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
