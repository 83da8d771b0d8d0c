// Package hebrew normalizes commentator and book names so that user-typed
// queries in Hebrew, Russian, or Latin script can be compared against the
// library's canonical catalog entries.
package hebrew

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes and drops combining marks. This covers Hebrew
// vowel-pointing (nikud and te'amim) as well as Latin and Cyrillic accents.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// finalForms maps Hebrew final letters to their standard forms.
var finalForms = map[rune]rune{
	'ך': 'כ',
	'ם': 'מ',
	'ן': 'נ',
	'ף': 'פ',
	'ץ': 'צ',
}

// cyrillicToLatin is a fixed transliteration table for the Russian alphabet.
// Hard and soft signs drop; digraphs follow common library romanization.
var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d",
	'е': "e", 'ё': "e", 'ж': "zh", 'з': "z", 'и': "i",
	'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch",
	'ш': "sh", 'щ': "shch", 'ъ': "", 'ы': "y", 'ь': "",
	'э': "e", 'ю': "yu", 'я': "ya",
}

// stopWords are generic words that carry no identity in a catalog name.
var stopWords = map[string]struct{}{
	"commentary": {},
	"on":         {},
	"the":        {},
	"of":         {},
	"part":       {},
	"volume":     {},
	"al":         {},
	"פירוש":      {},
	"על":         {},
}

// StripNikud removes combining marks from s.
func StripNikud(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// FoldFinals maps Hebrew final letter forms to their standard forms.
func FoldFinals(s string) string {
	return strings.Map(func(r rune) rune {
		if std, ok := finalForms[r]; ok {
			return std
		}
		return r
	}, s)
}

// Transliterate converts Cyrillic characters to Latin using a fixed table.
// Non-Cyrillic runes pass through unchanged.
func Transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		lower := unicode.ToLower(r)
		if lat, ok := cyrillicToLatin[lower]; ok {
			b.WriteString(lat)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize reduces a name to a canonical comparison form. It returns the
// canonical string (sorted tokens joined by single spaces) and the token set.
// The result may be empty; Normalize never fails.
func Normalize(s string) (string, map[string]struct{}) {
	s = StripNikud(s)
	s = FoldFinals(s)
	s = Transliterate(s)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(b.String()) {
		if _, skip := stopWords[tok]; skip {
			continue
		}
		tokens[tok] = struct{}{}
	}

	sorted := make([]string, 0, len(tokens))
	for tok := range tokens {
		sorted = append(sorted, tok)
	}
	sort.Strings(sorted)

	return strings.Join(sorted, " "), tokens
}
