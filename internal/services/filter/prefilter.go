// -----------------------------------------------------------------------
// Pre-Filter - Deterministic reject rules, run before any AI call
// -----------------------------------------------------------------------

package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// markdownEngine parses listing descriptions for the keyword scan. GFM so
// tables and strikethrough from converted postings do not confuse the walk.
var markdownEngine = goldmark.New(goldmark.WithExtensions(extension.GFM))

// evaluatePrefilter runs every reject rule and collects all reasons, so a
// rejected listing shows the full picture instead of the first hit.
func evaluatePrefilter(listing *models.JobListing, policy *models.PrefilterPolicy, now time.Time) *models.FilterResult {
	var reasons []string

	haystack := strings.ToLower(listing.Title + " " + markdownText(listing.Description))
	words := wordSet(haystack)
	for _, keyword := range policy.ExcludedKeywords {
		if matchesKeyword(haystack, words, keyword) {
			reasons = append(reasons, fmt.Sprintf("excluded keyword %q", keyword))
		}
	}

	if reason := locationReason(listing.Location, policy); reason != "" {
		reasons = append(reasons, reason)
	}

	if policy.MinSalary > 0 {
		if ceiling, ok := salaryCeiling(listing.SalaryRange); ok && ceiling < policy.MinSalary {
			reasons = append(reasons, fmt.Sprintf("salary ceiling %d below minimum %d", ceiling, policy.MinSalary))
		}
	}

	if listing.CompanyName != "" {
		canonical := common.CanonicalCompanyName(listing.CompanyName)
		for _, excluded := range policy.ExcludedCompanies {
			if canonical == common.CanonicalCompanyName(excluded) {
				reasons = append(reasons, fmt.Sprintf("excluded company %q", excluded))
				break
			}
		}
	}

	if host := common.URLHost(listing.URL); host != "" {
		for _, domain := range policy.ExcludedDomains {
			domain = strings.ToLower(strings.TrimSpace(domain))
			if domain == "" {
				continue
			}
			if host == domain || strings.HasSuffix(host, "."+domain) {
				reasons = append(reasons, fmt.Sprintf("excluded domain %q", domain))
				break
			}
		}
	}

	if policy.FreshnessWindowDays > 0 && listing.PostedDate != nil {
		age := now.Sub(*listing.PostedDate)
		window := time.Duration(policy.FreshnessWindowDays) * 24 * time.Hour
		if age > window {
			reasons = append(reasons, fmt.Sprintf("posted %d days ago, freshness window is %d days",
				int(age.Hours()/24), policy.FreshnessWindowDays))
		}
	}

	return &models.FilterResult{
		Pass:        len(reasons) == 0,
		Reasons:     reasons,
		EvaluatedAt: now,
	}
}

// locationReason applies the remote policy. Unknown locations never reject:
// a missing field is not evidence.
func locationReason(location string, policy *models.PrefilterPolicy) string {
	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" || policy.RemotePolicy == "any" {
		return ""
	}

	remote := strings.Contains(loc, "remote")
	switch policy.RemotePolicy {
	case "remote-only":
		if !remote {
			return fmt.Sprintf("location %q is not remote", location)
		}
	case "hybrid-ok":
		if remote || strings.Contains(loc, "hybrid") {
			return ""
		}
		if len(policy.AllowedLocations) == 0 {
			return ""
		}
		for _, allowed := range policy.AllowedLocations {
			if allowed != "" && strings.Contains(loc, strings.ToLower(allowed)) {
				return ""
			}
		}
		return fmt.Sprintf("location %q is outside the allowed locations", location)
	}
	return ""
}

// salaryCeiling extracts the top of a posted salary band. Postings write
// these every way imaginable ("$120,000 - $150,000", "Up to $150k", "150000");
// the largest number wins, k-suffixes multiply. Returns ok=false when no
// number is found, which never rejects.
func salaryCeiling(salaryRange string) (int, bool) {
	if salaryRange == "" {
		return 0, false
	}

	best := 0
	found := false
	lower := strings.ToLower(salaryRange)
	i := 0
	for i < len(lower) {
		if lower[i] < '0' || lower[i] > '9' {
			i++
			continue
		}
		start := i
		for i < len(lower) && (lower[i] >= '0' && lower[i] <= '9' || lower[i] == ',' || lower[i] == '.') {
			i++
		}
		token := strings.ReplaceAll(lower[start:i], ",", "")
		value, err := strconv.ParseFloat(token, 64)
		if err != nil {
			continue
		}
		if i < len(lower) && lower[i] == 'k' {
			value *= 1000
			i++
		}
		// Hourly-looking numbers would need a rate conversion we cannot
		// guess; skip anything that cannot plausibly be an annual figure.
		if value < 1000 {
			continue
		}
		if int(value) > best {
			best = int(value)
			found = true
		}
	}
	return best, found
}

// markdownText reduces a markdown document to its visible text so keyword
// scans do not match URLs, link targets or formatting syntax.
func markdownText(source string) string {
	if source == "" {
		return ""
	}
	src := []byte(source)
	root := markdownEngine.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Type() == ast.TypeBlock {
			b.WriteByte(' ')
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			// Code lines are not walked as inline children.
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// wordSet splits pre-lowered text into its word tokens for whole-word
// keyword checks.
func wordSet(lowered string) map[string]bool {
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// matchesKeyword checks an exclusion keyword against the listing text.
// Single words match whole words only, so "intern" never hits
// "international"; phrases match as substrings.
func matchesKeyword(lowered string, words map[string]bool, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}
	if strings.ContainsRune(keyword, ' ') {
		return strings.Contains(lowered, keyword)
	}
	return words[keyword]
}
