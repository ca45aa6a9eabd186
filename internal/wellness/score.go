// Package wellness turns detected moods into a bounded, smoothed wellness score.
//
// Two calculators exist. ComputeScore is trend-aware: it pulls the score toward the
// mood's base score, adjusted by recent history, and never moves more than maxChange
// points per update. SimpleScore is used when history is unavailable and applies a
// fixed per-mood adjustment.
package wellness

import (
	"math"

	"github.com/BTreeMap/MoodPipe/internal/models"
	"github.com/BTreeMap/MoodPipe/internal/mood"
)

// ---- Constants for the trend-aware calculator ----

const (
	momentumRate = 0.3
	maxMomentum  = 15.0
	// maxChange caps |new - current| per update.
	maxChange = 12.0
)

// fallbackBaseScores is used when the lexicon has no entry for a mood.
var fallbackBaseScores = map[string]int{
	mood.Excited:  90,
	mood.Happy:    85,
	mood.Calm:     75,
	mood.Confused: 60,
	mood.Tired:    50,
	mood.Anxious:  40,
	mood.Sad:      35,
	mood.Angry:    25,
}

// simpleAdjustments drives SimpleScore. Moods not listed adjust by 0.
var simpleAdjustments = map[string]int{
	mood.Excited:  8,
	mood.Happy:    5,
	mood.Calm:     2,
	mood.Confused: -2,
	mood.Tired:    -3,
	mood.Anxious:  -5,
	mood.Sad:      -6,
	mood.Angry:    -8,
}

const (
	positiveMultiplier = 1.2
	negativeMultiplier = 0.8
)

// BaseScore returns the base wellness score for moodName: the lexicon's value when the
// mood is present, the built-in table otherwise. ok is false for unknown moods.
func BaseScore(lex *mood.Lexicon, moodName string) (score int, ok bool) {
	if lex != nil {
		if e, found := lex.Lookup(moodName); found {
			return e.BaseScore, true
		}
	}
	score, ok = fallbackBaseScores[moodName]
	return score, ok
}

// ComputeScore returns the next wellness score for a user currently at current who was
// just detected in moodName, given the trend signals from recent history. An unknown
// mood uses current as its base, so only the signals move the score.
func ComputeScore(lex *mood.Lexicon, moodName string, current int, s Signals) int {
	base, ok := BaseScore(lex, moodName)
	if !ok {
		base = current
	}
	cur := float64(current)
	momentum := clampFloat((float64(base)-cur)*momentumRate, -maxMomentum, maxMomentum)
	target := float64(base) + s.Total()
	change := clampFloat((target-cur)+momentum, -maxChange, maxChange)
	return ClampScore(roundHalfUp(cur + change))
}

// SimpleScore is the history-free calculator. upstream is the sentiment label supplied
// with the turn, not the mood's own sentiment class.
func SimpleScore(moodName string, upstream models.Sentiment, current int) int {
	adjustment := float64(simpleAdjustments[moodName])
	multiplier := 1.0
	switch upstream {
	case models.SentimentPositive:
		multiplier = positiveMultiplier
	case models.SentimentNegative:
		multiplier = negativeMultiplier
	}
	return ClampScore(current + roundHalfUp(adjustment*multiplier))
}

// ClampScore bounds a score to [models.MinWellnessScore, models.MaxWellnessScore].
func ClampScore(score int) int {
	if score < models.MinWellnessScore {
		return models.MinWellnessScore
	}
	if score > models.MaxWellnessScore {
		return models.MaxWellnessScore
	}
	return score
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// roundHalfUp rounds .5 toward positive infinity, so -6.5 becomes -6.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
