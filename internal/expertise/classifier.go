// Package expertise infers how fluent a user is in stainless-steel metallurgy
// and standards from the wording of their messages.
package expertise

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type Level string

const (
	Beginner     Level = "beginner"
	Intermediate Level = "intermediate"
	Expert       Level = "expert"
)

// Label returns the Chinese tier name shown to the model.
func (l Level) Label() string {
	switch l {
	case Expert:
		return "專家"
	case Intermediate:
		return "中級"
	default:
		return "初學者"
	}
}

func (l Level) rank() int {
	switch l {
	case Expert:
		return 2
	case Intermediate:
		return 1
	default:
		return 0
	}
}

// Mode selects which classifier runs on the request path.
type Mode string

const (
	ModeSimple Mode = "simple"
	ModeFull   Mode = "full"
)

// ParseMode validates a configured mode name. Empty selects ModeSimple.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSimple:
		return ModeSimple, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown expertise mode %q (want %q or %q)", s, ModeSimple, ModeFull)
}

// Domains holds per-lexicon hit counts for one message.
type Domains struct {
	Metallurgy int `json:"metallurgy"`
	Corrosion  int `json:"corrosion"`
	Mechanical int `json:"mechanical"`
	Standards  int `json:"standards"`
	Advanced   int `json:"advanced"`
}

// covered counts the non-advanced domains with at least one hit.
func (d Domains) covered() int {
	n := 0
	for _, c := range []int{d.Metallurgy, d.Corrosion, d.Mechanical, d.Standards} {
		if c > 0 {
			n++
		}
	}
	return n
}

// Assessment is the result of the full classifier. It is recomputed for
// every message and never stored.
type Assessment struct {
	Level          Level   `json:"level"`
	Score          float64 `json:"score"`
	Confidence     float64 `json:"confidence"`
	Domains        Domains `json:"domains"`
	DomainsCovered int     `json:"domains_covered"`
}

// Classify scores message against the domain lexicons and structural
// patterns, blends in a reduced score from the last five prior user
// messages (oldest first in history), and assigns a tier.
func Classify(message string, history []string) Assessment {
	lower := strings.ToLower(message)
	d := countDomains(lower)

	score := float64(d.Metallurgy)*weightMetallurgy +
		float64(d.Corrosion)*weightCorrosion +
		float64(d.Mechanical)*weightMechanical +
		float64(d.Standards)*weightStandards +
		float64(d.Advanced)*weightAdvanced

	if comparisonPattern.MatchString(lower) {
		score += bonusComparison
	}
	if calculationPattern.MatchString(lower) {
		score += bonusCalculation
	}
	if mechanismPattern.MatchString(lower) {
		score += bonusMechanism
	}

	score += float64(len(StandardCodePattern.FindAllStringIndex(message, -1))) * perStandardCode
	score += float64(len(compositionPattern.FindAllStringIndex(message, -1))) * perCompositionExpr

	if meanSentenceRunes(message) > longSentenceRunes {
		score += bonusLongSentences
	}
	if strings.Count(message, "?")+strings.Count(message, "？") >= manyQuestionsMinimum {
		score += bonusManyQuestions
	}

	score += historyScore(history) * historyScale

	a := Assessment{
		Score:          score,
		Domains:        d,
		DomainsCovered: d.covered(),
	}

	switch {
	case score >= expertScore ||
		(score >= expertScoreWithDomains && a.DomainsCovered >= expertDomains) ||
		d.Advanced >= expertAdvancedHits:
		a.Level = Expert
		a.Confidence = clamp01((score - expertScoreWithDomains) / 10)
	case score >= intermediateScore ||
		(score >= intermediateWithDomains && a.DomainsCovered >= intermediateDomains):
		a.Level = Intermediate
		a.Confidence = clamp01((score - intermediateWithDomains) / 5)
	default:
		a.Level = Beginner
		a.Confidence = clamp01(score / 3)
	}
	return a
}

// ClassifySimple is the single-pass classifier: it only counts the short
// technical-term list and standards-code matches.
func ClassifySimple(message string) Level {
	terms := countTerms(strings.ToLower(message), simpleTerms)
	codes := len(StandardCodePattern.FindAllStringIndex(message, -1))

	switch {
	case terms >= simpleExpertTerms || codes >= simpleExpertCodes:
		return Expert
	case terms >= 1 || codes >= 1:
		return Intermediate
	}
	return Beginner
}

// LevelFor runs the classifier selected by mode.
func LevelFor(mode Mode, message string, history []string) Level {
	if mode == ModeFull {
		return Classify(message, history).Level
	}
	return ClassifySimple(message)
}

// TierDistance reports how many tiers apart two levels are.
func TierDistance(a, b Level) int {
	d := a.rank() - b.rank()
	if d < 0 {
		return -d
	}
	return d
}

func countDomains(lower string) Domains {
	return Domains{
		Metallurgy: countTerms(lower, metallurgyTerms),
		Corrosion:  countTerms(lower, corrosionTerms),
		Mechanical: countTerms(lower, mechanicalTerms),
		Standards:  countTerms(lower, standardsTerms),
		Advanced:   countTerms(lower, advancedTerms),
	}
}

func countTerms(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			n++
		}
	}
	return n
}

func historyScore(history []string) float64 {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var total float64
	for _, msg := range history {
		d := countDomains(strings.ToLower(msg))
		total += float64(d.Metallurgy+d.Corrosion+d.Mechanical) * historyCoreWeight
		total += float64(d.Standards) * historyStandardsWeight
		total += float64(d.Advanced) * historyAdvancedWeight
	}
	return total
}

func meanSentenceRunes(message string) float64 {
	var total, count int
	for _, s := range sentenceSplit.Split(message, -1) {
		if s == "" {
			continue
		}
		total += utf8.RuneCountInString(s)
		count++
	}
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
