package websearch

import (
	"regexp"
	"strings"
)

var (
	standardQueryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[A-Z]{2,5}\s*[A-Z]?[0-9]{1,5}`),
		regexp.MustCompile(`[A-Z]{2,5}\s*[A-Z]?-[0-9]{1,5}`),
	}

	gradeQueryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[0-9]{1,3}-[0-9]{1,2}[A-Z]{1,2}`), // 17-4PH
		regexp.MustCompile(`S[0-9]{5}`),                       // S32760
		regexp.MustCompile(`SUS\s*[0-9]{3}`),                  // SUS 630
	}

	standardBodyPattern = regexp.MustCompile(`(ASTM|EN|ISO|JIS|DIN|UNS|AISI|SAE)\s*[A-Z]?[0-9\-]+(?:[A-Z]+)?`)
)

const (
	querySuffix       = " 不銹鋼 標準 規範"
	comparisonSuffix  = " 化學成分 對應標準 不銹鋼 規範比較"
	fallbackQueryLen  = 100
	comparisonMinRefs = 2
)

// StandardsSites are searched with a site: restriction in addition to the
// open query.
var StandardsSites = []string{
	"astm.org", "en10088.info", "jisc.go.jp", "iso.org",
	"steel-grades.com", "steel-standards.com", "totalmateria.com",
	"worldstainless.org", "steeldata.info",
}

// ExtractQuery builds a search query from the standards codes and steel
// grades named in message. Without any, the first 100 characters of the
// message are used.
func ExtractQuery(message string) string {
	var terms []string
	for _, re := range standardQueryPatterns {
		terms = append(terms, re.FindAllString(message, -1)...)
	}
	for _, re := range gradeQueryPatterns {
		terms = append(terms, re.FindAllString(message, -1)...)
	}

	if len(terms) > 0 {
		return strings.Join(terms, " ") + querySuffix
	}

	r := []rune(message)
	if len(r) > fallbackQueryLen {
		r = r[:fallbackQueryLen]
	}
	return string(r) + querySuffix
}

// EnhanceQuery appends comparison vocabulary when the query names two or
// more standards or asks for an equivalence.
func EnhanceQuery(query string) string {
	refs := standardBodyPattern.FindAllString(query, -1)
	if len(refs) >= comparisonMinRefs ||
		strings.Contains(query, "對應") ||
		strings.Contains(query, "比較") ||
		strings.Contains(query, "相當") {
		return query + comparisonSuffix
	}
	return query
}
