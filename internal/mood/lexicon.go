// Package mood provides the mood lexicon, the tiered keyword pattern matcher that maps
// free text to a named mood with a confidence value, and the interpretation text shown
// alongside the detected mood.
package mood

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/MoodPipe/internal/models"
)

// Names of the moods in the default lexicon, in declaration order.
const (
	Happy    = "happy"
	Sad      = "sad"
	Angry    = "angry"
	Anxious  = "anxious"
	Calm     = "calm"
	Tired    = "tired"
	Confused = "confused"
	Excited  = "excited"

	// Neutral is reported when no tier produced a mood. It is not a lexicon entry.
	Neutral = "neutral"
	// UnknownEmoji is the emoji reported alongside Neutral.
	UnknownEmoji = "😶"
)

// Entry is one named mood and the keyword tiers used to detect it.
type Entry struct {
	Name        string
	Primary     []string // strongest single-word signals
	Secondary   []string // weaker or broader words
	Expressions []string // idioms and figurative phrases
	Statements  []string // full statement phrases matched by the phrase tier
	Emoji       string
	Sentiment   models.Sentiment
	Weight      float64 // detection weight in (0,1]
	BaseScore   int     // base wellness score in [0,100]
}

// Lexicon is an immutable, ordered set of mood entries.
// Order matters: earlier entries win ties.
type Lexicon struct {
	entries []Entry
	byName  map[string]int
}

// NewLexicon validates entries and builds a Lexicon. Keywords are lowercased and
// trimmed; duplicates within a tier are dropped.
func NewLexicon(entries []Entry) (*Lexicon, error) {
	lex := &Lexicon{
		entries: make([]Entry, 0, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			return nil, fmt.Errorf("mood entry has empty name")
		}
		if _, dup := lex.byName[name]; dup {
			return nil, fmt.Errorf("duplicate mood name %q", name)
		}
		e.Name = name
		e.Primary = normalizeTier(e.Primary)
		e.Secondary = normalizeTier(e.Secondary)
		e.Expressions = normalizeTier(e.Expressions)
		e.Statements = normalizeTier(e.Statements)
		if len(e.Primary) == 0 {
			return nil, fmt.Errorf("mood %q has no primary keywords", name)
		}
		if e.Weight <= 0 || e.Weight > 1 {
			return nil, fmt.Errorf("mood %q weight %v outside (0,1]", name, e.Weight)
		}
		if e.BaseScore < 0 || e.BaseScore > 100 {
			return nil, fmt.Errorf("mood %q base score %d outside [0,100]", name, e.BaseScore)
		}
		if !e.Sentiment.IsValid() {
			return nil, fmt.Errorf("mood %q has invalid sentiment %q", name, e.Sentiment)
		}
		lex.byName[name] = len(lex.entries)
		lex.entries = append(lex.entries, e)
	}
	return lex, nil
}

// MustNewLexicon is like NewLexicon but panics on invalid input.
func MustNewLexicon(entries []Entry) *Lexicon {
	lex, err := NewLexicon(entries)
	if err != nil {
		panic(err)
	}
	return lex
}

// Entries returns the entries in declaration order. The slice is a copy.
func (l *Lexicon) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lookup returns the entry for name.
func (l *Lexicon) Lookup(name string) (Entry, bool) {
	i, ok := l.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Len returns the number of moods.
func (l *Lexicon) Len() int {
	return len(l.entries)
}

func normalizeTier(words []string) []string {
	if len(words) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = normalize(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// DefaultEntries returns the built-in mood table.
//
// Keywords are matched as substrings by default, so a short keyword such as "mad" also
// hits inside "made". Phrases that contain one belong in Statements, which the phrase
// tier checks before the keyword scan.
func DefaultEntries() []Entry {
	return []Entry{
		{
			Name:        Happy,
			Primary:     []string{"happy", "joyful", "glad", "cheerful", "delighted", "overjoyed"},
			Secondary:   []string{"pleased", "grateful", "thankful", "blessed", "smiling", "lighthearted"},
			Expressions: []string{"on cloud nine", "over the moon", "walking on air", "couldn't be better"},
			Statements:  []string{"made my day", "feel better", "feeling better", "feeling good", "feeling great", "having a good day", "having a great day", "in a good mood", "things are looking up"},
			Emoji:       "😊",
			Sentiment:   models.SentimentPositive,
			Weight:      1.0,
			BaseScore:   85,
		},
		{
			Name:        Sad,
			Primary:     []string{"sad", "depressed", "miserable", "heartbroken", "gloomy", "devastated"},
			Secondary:   []string{"lonely", "hopeless", "empty inside", "crying", "grief", "hurt", "disappointed", "blue"},
			Expressions: []string{"feel like crying", "heart is heavy", "down in the dumps", "falling apart", "can't stop crying"},
			Statements:  []string{"feeling down", "feeling low", "having a bad day", "having a rough day", "in a bad place", "not doing well"},
			Emoji:       "😢",
			Sentiment:   models.SentimentNegative,
			Weight:      1.0,
			BaseScore:   35,
		},
		{
			Name:        Angry,
			Primary:     []string{"angry", "furious", "mad", "pissed", "enraged", "livid"},
			Secondary:   []string{"annoyed", "irritated", "frustrated", "resentful", "fed up", "outraged"},
			Expressions: []string{"drives me crazy", "makes my blood boil", "lost my temper", "sick of it", "had it with"},
			Statements:  []string{"so done with", "had enough", "can't stand it", "getting on my nerves"},
			Emoji:       "😠",
			Sentiment:   models.SentimentNegative,
			Weight:      1.0,
			BaseScore:   25,
		},
		{
			Name:        Anxious,
			Primary:     []string{"anxious", "worried", "nervous", "panicking", "scared", "afraid"},
			Secondary:   []string{"stressed", "overwhelmed", "uneasy", "tense", "on edge", "restless", "dread"},
			Expressions: []string{"can't stop thinking", "mind is racing", "butterflies in my stomach", "heart is pounding", "what if"},
			Statements:  []string{"freaking out", "losing my mind", "can't calm down", "feeling on edge", "having a panic attack"},
			Emoji:       "😰",
			Sentiment:   models.SentimentNegative,
			Weight:      1.0,
			BaseScore:   40,
		},
		{
			Name:        Calm,
			Primary:     []string{"calm", "peaceful", "relaxed", "serene", "tranquil"},
			Secondary:   []string{"chill", "at ease", "balanced", "grounded", "centered", "mellow"},
			Expressions: []string{"taking it easy", "at peace", "breathing easy", "going with the flow"},
			Statements:  []string{"feeling relaxed", "feeling at peace", "feeling balanced", "nice and quiet"},
			Emoji:       "😌",
			Sentiment:   models.SentimentNeutral,
			Weight:      0.95,
			BaseScore:   75,
		},
		{
			Name:        Tired,
			Primary:     []string{"tired", "exhausted", "drained", "sleepy", "fatigued", "worn out"},
			Secondary:   []string{"weary", "burned out", "burnt out", "no energy", "lethargic", "groggy"},
			Expressions: []string{"running on empty", "can barely keep my eyes open", "dead on my feet", "need a nap"},
			Statements:  []string{"didn't sleep", "couldn't sleep", "can't sleep", "so much to do", "long day"},
			Emoji:       "😴",
			Sentiment:   models.SentimentNegative,
			Weight:      0.95,
			BaseScore:   50,
		},
		{
			Name:        Confused,
			Primary:     []string{"confused", "puzzled", "lost", "uncertain", "bewildered"},
			Secondary:   []string{"unsure", "not sure", "mixed up", "torn", "conflicted", "unclear"},
			Expressions: []string{"don't know what to do", "can't figure out", "makes no sense", "all over the place"},
			Statements:  []string{"don't understand", "no idea what", "can't decide", "not sure what to think"},
			Emoji:       "😕",
			Sentiment:   models.SentimentNeutral,
			Weight:      0.95,
			BaseScore:   60,
		},
		{
			Name:        Excited,
			Primary:     []string{"excited", "thrilled", "ecstatic", "pumped", "stoked", "elated"},
			Secondary:   []string{"eager", "can't wait", "hyped", "energized", "motivated", "inspired"},
			Expressions: []string{"best day ever", "so ready for", "counting down the days", "through the roof"},
			Statements:  []string{"looking forward to", "big news", "guess what", "it finally happened"},
			Emoji:       "🤩",
			Sentiment:   models.SentimentPositive,
			Weight:      1.0,
			BaseScore:   90,
		},
	}
}

// DefaultLexicon returns a Lexicon built from DefaultEntries.
func DefaultLexicon() *Lexicon {
	return MustNewLexicon(DefaultEntries())
}
