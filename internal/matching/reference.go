// Package matching is the Matching Engine: blocking, candidate scoring,
// tier classification, and allocation solving for unreconciled bank
// transactions against open invoices and vendor bills.
package matching

import (
	"regexp"
	"strings"
)

var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`INV[-\s]?(\d+)`),
	regexp.MustCompile(`INVOICE[-\s]?(\d+)`),
	regexp.MustCompile(`#(\d+)`),
	regexp.MustCompile(`REF[-\s]?(\d+)`),
	regexp.MustCompile(`DOC[-\s]?(\d+)`),
}

var digitRun = regexp.MustCompile(`\d{4,}`)

// ExtractReferenceTokens uppercases free-form text and collects every
// INV/INVOICE/#/REF/DOC-prefixed number plus bare digit runs of length
// >= 4, deduplicated in first-seen order.
func ExtractReferenceTokens(text string) []string {
	upper := strings.ToUpper(text)
	seen := make(map[string]bool)
	var tokens []string

	add := func(tok string) {
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}

	for _, pat := range referencePatterns {
		for _, m := range pat.FindAllStringSubmatch(upper, -1) {
			add(m[1])
		}
	}
	for _, m := range digitRun.FindAllString(upper, -1) {
		add(m)
	}
	return tokens
}

// companySuffixes are stripped from normalized counterparty names, per
// the blocking index's by_counterparty rule.
var companySuffixes = []string{" ltd", " llc", " inc", " gmbh", " ag", " sa", " bv", " nv"}

var punctuation = regexp.MustCompile(`[^\w\s]`)
var whitespace = regexp.MustCompile(`\s+`)

// NormalizeCounterparty lowercases, strips punctuation, collapses
// whitespace, and removes a trailing company-type suffix.
func NormalizeCounterparty(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = punctuation.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	for _, suffix := range companySuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			s = strings.TrimSpace(s)
			break
		}
	}
	return s
}

// referenceMatches reports whether any extracted token is contained in
// docNumber or vice versa, case-insensitively.
func referenceMatches(tokens []string, docNumber string) bool {
	doc := strings.ToUpper(docNumber)
	if doc == "" {
		return false
	}
	for _, t := range tokens {
		if strings.Contains(doc, t) || strings.Contains(t, doc) {
			return true
		}
	}
	return false
}
