package mood

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/MoodPipe/internal/util"
)

// maxEvidenceNoted is how many matched keywords are echoed back in the interpretation.
const maxEvidenceNoted = 3

// interpretationPools holds the message templates per mood.
var interpretationPools = map[string][]string{
	Happy: {
		"You seem to be in good spirits today.",
		"There's a positive energy in what you're sharing.",
		"It sounds like things are going well for you right now.",
		"Your mood looks bright. Enjoy it.",
	},
	Sad: {
		"It sounds like you're going through a hard time.",
		"You seem to be carrying some heaviness right now.",
		"Things feel low at the moment, and that's okay to acknowledge.",
		"It seems like you could use some extra care today.",
	},
	Angry: {
		"It sounds like something has really frustrated you.",
		"There's a lot of tension in what you're describing.",
		"You seem upset, and those feelings are valid.",
	},
	Anxious: {
		"It sounds like you have a lot on your mind.",
		"You seem worried about what's ahead.",
		"There's some unease in what you're sharing. Try a slow breath.",
		"It seems like stress is building up for you.",
	},
	Calm: {
		"You seem settled and at ease.",
		"There's a steady, balanced feel to your messages.",
		"It sounds like you're in a peaceful place right now.",
	},
	Tired: {
		"It sounds like your energy is running low.",
		"You seem worn out. Rest might help.",
		"It seems like you've been pushing hard lately.",
	},
	Confused: {
		"It sounds like you're trying to make sense of things.",
		"You seem unsure about the way forward.",
		"There's some uncertainty in what you're describing.",
	},
	Excited: {
		"You sound really excited about something.",
		"There's a lot of enthusiasm in what you're sharing.",
		"It seems like something great is happening for you.",
		"Your energy is high today.",
	},
}

var neutralPool = []string{
	"Keep chatting and your dashboard will reflect how you're feeling.",
	"Nothing stands out about your mood yet.",
	"Your mood is hard to read from this message.",
}

// Interpreter produces the human-readable explanation shown next to a detected mood.
type Interpreter struct {
	rand util.RandSource
}

// NewInterpreter returns an Interpreter picking from its pools with src. A nil src uses
// the math/rand/v2 global generator.
func NewInterpreter(src util.RandSource) *Interpreter {
	if src == nil {
		src = util.DefaultRand()
	}
	return &Interpreter{rand: src}
}

// Interpret returns one message from the pool for moodName, followed by a note listing
// up to three pieces of evidence.
func (i *Interpreter) Interpret(moodName string, evidence []string) string {
	msg := util.PickString(i.rand, Pool(moodName))
	if note := evidenceNote(evidence); note != "" {
		msg += " " + note
	}
	return msg
}

// Pool returns the message templates for moodName. Unknown moods use the neutral pool.
func Pool(moodName string) []string {
	if pool, ok := interpretationPools[strings.ToLower(moodName)]; ok {
		return pool
	}
	return neutralPool
}

func evidenceNote(evidence []string) string {
	quoted := make([]string, 0, maxEvidenceNoted)
	for _, e := range evidence {
		// Fallback evidence is a sentiment label, not something the user said.
		if e == "" || strings.HasPrefix(e, "sentiment:") {
			continue
		}
		quoted = append(quoted, fmt.Sprintf("%q", e))
		if len(quoted) == maxEvidenceNoted {
			break
		}
	}
	if len(quoted) == 0 {
		return ""
	}
	return "(picked up on: " + strings.Join(quoted, ", ") + ")"
}
