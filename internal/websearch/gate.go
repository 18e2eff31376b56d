package websearch

import (
	"strings"
	"unicode/utf8"
)

// TriggerKeywords force a web search whenever any appears in the message.
// Matching is case-sensitive.
var TriggerKeywords = []string{
	"ASTM", "EN", "ISO", "JIS", "DIN", "UNS", "AISI", "SAE",
	"標準", "規範", "對應", "比較", "相當", "換算", "等同",
}

const (
	minIndexExcerpts     = 3
	comprehensiveExcerpt = 200
)

const (
	ReasonKeyword      = "keyword"
	ReasonFewExcerpts  = "few_excerpts"
	ReasonThinExcerpts = "thin_excerpts"
	ReasonSufficient   = "index_sufficient"
	ReasonDisabled     = "disabled"
)

// Decision records whether a web search should run and which rule decided it.
type Decision struct {
	Required bool
	Reason   string
}

// Gate decides whether internal index results need web augmentation.
// When Enabled is false only the keyword rule applies.
type Gate struct {
	Enabled bool
}

// Decide evaluates the rules in order; the first rule that fires wins.
// excerpts are the bodies returned by the internal index.
func (g Gate) Decide(message string, excerpts []string) Decision {
	for _, kw := range TriggerKeywords {
		if strings.Contains(message, kw) {
			return Decision{Required: true, Reason: ReasonKeyword}
		}
	}

	if !g.Enabled {
		return Decision{Reason: ReasonDisabled}
	}

	if len(excerpts) < minIndexExcerpts {
		return Decision{Required: true, Reason: ReasonFewExcerpts}
	}

	for _, body := range excerpts {
		if utf8.RuneCountInString(body) > comprehensiveExcerpt {
			return Decision{Reason: ReasonSufficient}
		}
	}
	return Decision{Required: true, Reason: ReasonThinExcerpts}
}
