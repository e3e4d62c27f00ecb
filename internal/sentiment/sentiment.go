// Package sentiment tags generated replies with a coarse mood label.
//
// The classifier is a keyword heuristic: each cue counts once if it occurs
// anywhere in the lower-cased text. It is cheap and deterministic, not accurate.
package sentiment

import "strings"

type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

// Confidence is the fixed score reported alongside a heuristic label.
const Confidence = 0.7

var (
	positiveCues = []string{"happy", "great", "excellent", "good", "wonderful", "amazing", "love", "yes", "!"}
	negativeCues = []string{"sorry", "sad", "bad", "terrible", "no", "unfortunately", "problem", "issue"}
)

// Analysis is the labeled result exposed over HTTP.
type Analysis struct {
	Sentiment  Sentiment `json:"sentiment"`
	Confidence float64   `json:"confidence"`
}

// Tag returns whichever cue list matches more, or Neutral on a tie.
func Tag(text string) Sentiment {
	lower := strings.ToLower(text)
	pos, neg := matches(lower, positiveCues), matches(lower, negativeCues)
	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	default:
		return Neutral
	}
}

func Analyze(text string) Analysis {
	return Analysis{Sentiment: Tag(text), Confidence: Confidence}
}

func matches(text string, cues []string) int {
	n := 0
	for _, c := range cues {
		if strings.Contains(text, c) {
			n++
		}
	}
	return n
}
