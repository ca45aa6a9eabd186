package mood

import (
	"math"
	"regexp"
	"strings"

	"github.com/BTreeMap/MoodPipe/internal/models"
)

// Method identifies which detection tier produced a Result.
type Method string

const (
	MethodNone              Method = "none"
	MethodDirectStatement   Method = "direct_statement"
	MethodPhraseMatch       Method = "phrase_match"
	MethodKeywordScan       Method = "keyword_scan"
	MethodSentimentFallback Method = "sentiment_fallback"
)

// ---- Confidence constants ----

const (
	// Direct-statement tier multipliers, by keyword tier.
	directPrimaryConfidence    = 0.95
	directSecondaryConfidence  = 0.85
	directExpressionConfidence = 0.80

	phraseConfidence = 0.75

	// Keyword-scan contributions per hit, and acceptance bounds.
	scanPrimaryWeight    = 0.8
	scanSecondaryWeight  = 0.6
	scanExpressionWeight = 0.7
	scanMinScore         = 0.2
	scanConfidenceBoost  = 0.2
	scanMaxConfidence    = 0.85

	positiveFallbackConfidence = 0.4
	negativeFallbackConfidence = 0.4
	neutralFallbackConfidence  = 0.25

	// UpdateThreshold is the confidence a result must exceed to update the dashboard.
	// The bar is low on purpose: a missed detection loses tracking data, a spurious one
	// only changes the displayed mood.
	UpdateThreshold = 0.15
)

// Result is the outcome of running the detection cascade over one utterance.
type Result struct {
	Mood         string           `json:"mood"`
	Emoji        string           `json:"emoji"`
	Sentiment    models.Sentiment `json:"sentiment"`
	Confidence   float64          `json:"confidence"`
	ShouldUpdate bool             `json:"should_update"`
	Evidence     []string         `json:"evidence,omitempty"`
	Method       Method           `json:"method"`
}

// NeutralResult is returned when no tier matched.
func NeutralResult() Result {
	return Result{
		Mood:      Neutral,
		Emoji:     UnknownEmoji,
		Sentiment: models.SentimentNeutral,
		Method:    MethodNone,
	}
}

// statementTemplates are first-person emotional statements, tried in order. Specific
// self-statements come before causal phrasings ("makes me ...") and the catch-all
// "i'm ..." form, so the speaker's own statement decides the clause.
var statementTemplates = compileTemplates(
	`\b(?:i'm|im|i am) feeling (.+)`,
	`\bi(?:'ve| have) been feeling (.+)`,
	`\blately i(?:'ve| have) been (.+)`,
	`\bi(?:'ve| have) never felt so (.+)`,
	`\b(?:i'm|im|i am) starting to feel (.+)`,
	`\b(?:i'm|im|i am) so (.+)`,
	`\b(?:i'm|im|i am) really (.+)`,
	`\b(?:i'm|im|i am) very (.+)`,
	`\b(?:i'm|im|i am) just (.+)`,
	`\b(?:i'm|im|i am) getting (.+)`,
	`\b(?:i'm|im|i am) in a (.+) mood`,
	`\bi(?:'ve| have) been so (.+)`,
	`\bi (?:just|still|really|always|often|sometimes) feel (.+)`,
	`\bi (?:kind of|kinda|sort of) feel (.+)`,
	`\bi can't stop feeling (.+)`,
	`\bi feel (.+)`,
	`\bi felt (.+)`,
	`\bi(?:'ve| have) felt (.+)`,
	`\bmy mood is (.+)`,
	`\bi(?:'ve| have) been (.+)`,
	`\bi get (?:so |really )?(.+) when`,
	`\bmakes me feel (.+)`,
	`\bmade me feel (.+)`,
	`\bmakes me (.+)`,
	`\b(?:i'm|im|i am) (.+)`,
	`\bfeeling (.+)`,
)

func compileTemplates(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithTokenMatching switches keyword containment from plain substring search to
// whole-word search, so that "mad" no longer matches inside "madrid".
func WithTokenMatching() Option {
	return func(m *Matcher) { m.tokenMatch = true }
}

// WithLexicon replaces the default lexicon.
func WithLexicon(lex *Lexicon) Option {
	return func(m *Matcher) {
		if lex != nil {
			m.lexicon = lex
		}
	}
}

// Matcher maps free text to a mood using the lexicon. It holds no mutable state and is
// safe for concurrent use.
type Matcher struct {
	lexicon    *Lexicon
	tokenMatch bool
}

// NewMatcher returns a Matcher over the default lexicon unless WithLexicon is given.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{lexicon: DefaultLexicon()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lexicon returns the lexicon the matcher was built with.
func (m *Matcher) Lexicon() *Lexicon {
	return m.lexicon
}

// TokenMatching reports whether whole-word matching is enabled.
func (m *Matcher) TokenMatching() bool {
	return m.tokenMatch
}

// Detect runs the detection cascade over utterance. upstream is an optional sentiment
// label from the chat layer; pass models.SentimentNone when there is none.
func (m *Matcher) Detect(utterance string, upstream models.Sentiment) Result {
	text := normalize(utterance)
	if text != "" {
		if r, ok := m.detectStatement(text); ok {
			return r
		}
		if r, ok := m.detectPhrase(text); ok {
			return r
		}
		if r, ok := m.detectKeywords(text); ok {
			return r
		}
	}
	if r, ok := m.fallback(upstream); ok {
		return r
	}
	return NeutralResult()
}

// detectStatement is tier 1. Templates are tried in order; a template whose clause
// holds no keyword passes to the next one.
func (m *Matcher) detectStatement(text string) (Result, bool) {
	for _, re := range statementTemplates {
		sub := re.FindStringSubmatch(text)
		if sub == nil {
			continue
		}
		if r, ok := m.scanClause(strings.TrimSpace(sub[1])); ok {
			return r, true
		}
	}
	return Result{}, false
}

// scanClause looks for primary, then secondary, then expression keywords in clause.
func (m *Matcher) scanClause(clause string) (Result, bool) {
	if clause == "" {
		return Result{}, false
	}
	tiers := []struct {
		words      func(Entry) []string
		confidence float64
	}{
		{func(e Entry) []string { return e.Primary }, directPrimaryConfidence},
		{func(e Entry) []string { return e.Secondary }, directSecondaryConfidence},
		{func(e Entry) []string { return e.Expressions }, directExpressionConfidence},
	}
	for _, tier := range tiers {
		for _, e := range m.lexicon.entries {
			for _, kw := range tier.words(e) {
				if m.contains(clause, kw) {
					return newResult(e, tier.confidence*e.Weight, MethodDirectStatement, []string{kw}), true
				}
			}
		}
	}
	return Result{}, false
}

// detectPhrase is tier 2.
func (m *Matcher) detectPhrase(text string) (Result, bool) {
	for _, e := range m.lexicon.entries {
		for _, phrase := range e.Statements {
			if m.contains(text, phrase) {
				return newResult(e, phraseConfidence*e.Weight, MethodPhraseMatch, []string{phrase}), true
			}
		}
	}
	return Result{}, false
}

// detectKeywords is tier 3. Every distinct hit contributes; the highest-scoring mood
// wins and ties go to the earlier-declared mood.
func (m *Matcher) detectKeywords(text string) (Result, bool) {
	bestIdx := -1
	bestScore := 0.0
	var bestEvidence []string

	for i, e := range m.lexicon.entries {
		score := 0.0
		var evidence []string
		for _, kw := range e.Primary {
			if m.contains(text, kw) {
				score += scanPrimaryWeight * e.Weight
				evidence = append(evidence, kw)
			}
		}
		for _, kw := range e.Secondary {
			if m.contains(text, kw) {
				score += scanSecondaryWeight * e.Weight
				evidence = append(evidence, kw)
			}
		}
		for _, kw := range e.Expressions {
			if m.contains(text, kw) {
				score += scanExpressionWeight * e.Weight
				evidence = append(evidence, kw)
			}
		}
		if score > bestScore {
			bestIdx, bestScore, bestEvidence = i, score, evidence
		}
	}

	if bestIdx < 0 || bestScore <= scanMinScore {
		return Result{}, false
	}
	confidence := math.Min(bestScore+scanConfidenceBoost, scanMaxConfidence)
	return newResult(m.lexicon.entries[bestIdx], confidence, MethodKeywordScan, bestEvidence), true
}

// fallback is tier 4.
func (m *Matcher) fallback(upstream models.Sentiment) (Result, bool) {
	var name string
	var confidence float64
	switch upstream {
	case models.SentimentPositive:
		name, confidence = Happy, positiveFallbackConfidence
	case models.SentimentNegative:
		name, confidence = Sad, negativeFallbackConfidence
	case models.SentimentNeutral:
		name, confidence = Calm, neutralFallbackConfidence
	default:
		return Result{}, false
	}
	e, ok := m.lexicon.Lookup(name)
	if !ok {
		return Result{}, false
	}
	return newResult(e, confidence, MethodSentimentFallback, []string{"sentiment:" + string(upstream)}), true
}

func newResult(e Entry, confidence float64, method Method, evidence []string) Result {
	confidence = clamp(confidence)
	return Result{
		Mood:         e.Name,
		Emoji:        e.Emoji,
		Sentiment:    e.Sentiment,
		Confidence:   confidence,
		ShouldUpdate: confidence > UpdateThreshold,
		Evidence:     evidence,
		Method:       method,
	}
}

func (m *Matcher) contains(text, kw string) bool {
	if !m.tokenMatch {
		return strings.Contains(text, kw)
	}
	return containsWord(text, kw)
}

// containsWord reports whether kw occurs in text bounded by non-word characters.
func containsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	for start := 0; start <= len(text)-len(kw); {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '\'' || b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b >= 0x80
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// normalize lowercases, unifies apostrophes and collapses runs of whitespace.
func normalize(s string) string {
	s = apostrophes.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// clamp bounds v to [0,1], rounded to 4 decimal places to avoid floating point drift.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return math.Round(v*10000) / 10000
}
