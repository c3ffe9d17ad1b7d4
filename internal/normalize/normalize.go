// Package normalize canonicalizes company names into comparable search keys.
package normalize

import (
	"math"
	"regexp"
	"strings"
)

// Suffixes are the legal-form suffixes stripped from the end of a key, longest
// first so a long form is never cut down to a shorter one it ends with.
var Suffixes = []string{
	" EMPRESA INDIVIDUAL DE RESPONSABILIDAD LIMITADA",
	" SOCIEDAD ANONIMA CERRADA",
	" SOCIEDAD ANONIMA",
	" SCRL",
	" EIRL",
	" LTDA",
	" SAC",
	" SAA",
	" SRL",
	" SA",
	" SL",
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9\s]`)

// Key uppercases name, drops every character outside A-Z, 0-9 and
// whitespace, collapses whitespace runs and strips at most one suffix.
func Key(name string) string {
	k := nonAlnum.ReplaceAllString(strings.ToUpper(name), "")
	k = strings.Join(strings.Fields(k), " ")
	for _, suffix := range Suffixes {
		if strings.HasSuffix(k, suffix) {
			k = strings.TrimSuffix(k, suffix)
			break
		}
	}
	return strings.TrimSpace(k)
}

// Variants returns the ordered, deduplicated search variants for a
// canonical key: the full key, then prefixes of 75% and 50% of its tokens
// when it has more than two tokens. An empty key has no variants.
func Variants(key string) []string {
	tokens := strings.Fields(key)
	if len(tokens) == 0 {
		return nil
	}
	variants := []string{strings.Join(tokens, " ")}
	if len(tokens) > 2 {
		for _, frac := range []float64{0.75, 0.5} {
			variants = appendUnique(variants, strings.Join(tokens[:prefixLen(len(tokens), frac)], " "))
		}
	}
	return variants
}

func prefixLen(n int, frac float64) int {
	return max(1, int(math.Ceil(float64(n)*frac)))
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
