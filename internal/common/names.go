// -----------------------------------------------------------------------
// Company Names - Canonical form for company identity and dedup
// -----------------------------------------------------------------------

package common

import "strings"

// legalSuffixes are corporate form markers stripped from the end of a name.
// Checked repeatedly so "Acme Holdings Pty Ltd" reduces to "acme holdings".
var legalSuffixes = []string{
	"inc", "incorporated", "llc", "llp", "ltd", "limited", "corp",
	"corporation", "co", "company", "gmbh", "ag", "bv", "oy", "ab",
	"plc", "pty", "sa", "srl", "sarl",
}

// CanonicalCompanyName reduces a display name to the form used for company
// identity: lowercased, punctuation stripped, whitespace collapsed, legal
// suffixes removed. "Acme, Inc." and "ACME Inc" canonicalize identically.
func CanonicalCompanyName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '-', r == '_', r == '.', r == ',', r == '&', r == '/':
			b.WriteByte(' ')
		default:
			// Other punctuation and symbols drop out entirely
		}
	}

	words := strings.Fields(b.String())

	// Peel legal suffixes off the end, but never reduce to nothing
	for len(words) > 1 {
		last := words[len(words)-1]
		if !isLegalSuffix(last) {
			break
		}
		words = words[:len(words)-1]
	}

	return strings.Join(words, " ")
}

func isLegalSuffix(word string) bool {
	for _, suffix := range legalSuffixes {
		if word == suffix {
			return true
		}
	}
	return false
}
