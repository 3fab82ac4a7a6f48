// Package normalize derives the canonical comparable forms of product
// names and style codes. Everything here is pure and deterministic; the
// same input always yields the same output, and every function is
// idempotent over its own output.
package normalize

import (
	"regexp"
	"strings"
)

var (
	// Trailing or embedded bracket annotations like "[DV0833-100]".
	bracketRe = regexp.MustCompile(`\s*\[[^\]]*\]\s*`)
	// Marketplace abbreviation for women's releases ("Wmns Air Jordan ...").
	wmnsRe  = regexp.MustCompile(`\bwmns\b`)
	spaceRe = regexp.MustCompile(`\s+`)

	styleSeparators = strings.NewReplacer("-", "", " ", "", "_", "")
	namePunct       = strings.NewReplacer(
		"'", "", "’", "", `"`, "", "“", "", "”", "",
		"(", "", ")", "",
		"-", " ", "_", " ",
	)
)

// StyleCode canonicalizes a manufacturer style code for cross-platform
// equality: separators removed, uppercased, leading zeros stripped. Forward
// slashes are preserved (StockX uses codes like "W/DM0807-160"). An absent
// code stays absent; normalization never fabricates one.
func StyleCode(raw *string) *string {
	if raw == nil {
		return nil
	}
	s := styleSeparators.Replace(strings.TrimSpace(*raw))
	s = strings.ToUpper(s)
	if s == "" {
		return nil
	}
	if trimmed := strings.TrimLeft(s, "0"); trimmed != "" {
		s = trimmed
	} else {
		// All zeros collapse to a single "0".
		s = "0"
	}
	return &s
}

// Name canonicalizes a display name for embedding input and exact-name
// fallback matching: bracketed annotations stripped, gender abbreviations
// expanded, non-semantic punctuation dropped, lowercased, whitespace
// collapsed.
//
// Precondition: raw is non-empty (products always carry a name upstream).
func Name(raw string) string {
	s := bracketRe.ReplaceAllString(raw, " ")
	s = strings.ToLower(s)
	s = wmnsRe.ReplaceAllString(s, "womens")
	s = namePunct.Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// EmbeddingText builds the exact string submitted to the embedding
// provider. A style code, when present, leads so the strongest identifier
// dominates the vector.
func EmbeddingText(displayName string, styleCodeRaw *string) string {
	name := Name(displayName)
	if code := StyleCode(styleCodeRaw); code != nil {
		return *code + " | " + name
	}
	return name
}
