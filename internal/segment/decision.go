package segment

import (
	"math"
	"sort"

	"github.com/maauso/langsplit/internal/recognize"
)

// Decision thresholds. A language is chosen only when its confidence is above
// the high threshold while every other candidate is below the low one.
const (
	DefaultConfidenceLow  = 0.40
	DefaultConfidenceHigh = 0.85
)

// NoConfidence is reported for a language without any alternative.
const NoConfidence = -1.0

// Unknown is the transcription of a node whose language is undetermined.
const Unknown = "?"

// BestAlternative returns the alternative with the highest confidence. Ties go
// to the earliest alternative.
func BestAlternative(alts []recognize.Alternative) (recognize.Alternative, bool) {
	if len(alts) == 0 {
		return recognize.Alternative{}, false
	}
	best := alts[0]
	for _, a := range alts[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}
	return best, true
}

// Confidences returns, per language, the best confidence rounded to two
// decimals, or NoConfidence when the language has no alternatives.
func Confidences(rec Recognition) map[string]float64 {
	if rec == nil {
		return nil
	}
	out := make(map[string]float64, len(rec))
	for lang, alts := range rec {
		best, ok := BestAlternative(alts)
		if !ok {
			out[lang] = NoConfidence
			continue
		}
		out[lang] = math.Round(best.Confidence*100) / 100
	}
	return out
}

// Decide picks the most confident language if it is above high and every
// other language is below low. Otherwise the language is undetermined.
func Decide(confidences map[string]float64, low, high float64) (string, bool) {
	if len(confidences) < 2 {
		return "", false
	}

	type scored struct {
		lang  string
		value float64
	}
	pairs := make([]scored, 0, len(confidences))
	for lang, v := range confidences {
		pairs = append(pairs, scored{lang, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].value != pairs[j].value {
			return pairs[i].value < pairs[j].value
		}
		return pairs[i].lang < pairs[j].lang
	})

	top := pairs[len(pairs)-1]
	runnerUp := pairs[len(pairs)-2]
	if runnerUp.value < low && top.value > high {
		return top.lang, true
	}
	return "", false
}

// Confidence returns the per-language confidences of a recognized node, or nil
// if the node has not been recognized yet.
func Confidence(n *Node) map[string]float64 {
	rec, ok := n.Recognized()
	if !ok {
		return nil
	}
	return Confidences(rec)
}

// Language returns the decided language of a recognized node.
func Language(n *Node, low, high float64) (string, bool) {
	return Decide(Confidence(n), low, high)
}

// Transcription returns the best transcript in the decided language, or
// Unknown when the language is undetermined.
func Transcription(n *Node, low, high float64) string {
	lang, ok := Language(n, low, high)
	if !ok {
		return Unknown
	}
	rec, _ := n.Recognized()
	best, ok := BestAlternative(rec[lang])
	if !ok {
		return Unknown
	}
	return best.Text
}
