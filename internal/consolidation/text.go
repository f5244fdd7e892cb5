package consolidation

import (
	"math"
	"strings"
)

// tokenize splits text into lowercase word tokens, keeping unicode words
// and dropping single characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}

// keywordOverlap scores how much of a keyword set appears in the target
// text, blending Jaccard overlap with input coverage.
func keywordOverlap(keywords []string, target string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	target = strings.ToLower(target)
	targetWords := tokenize(target)
	targetSet := make(map[string]bool, len(targetWords))
	for _, w := range targetWords {
		targetSet[w] = true
	}

	var matched int
	var weighted float64
	for _, kw := range keywords {
		if targetSet[kw] {
			matched++
			weighted += 1.0
		} else if strings.Contains(target, kw) {
			matched++
			weighted += 0.7
		}
	}
	if matched == 0 {
		return 0
	}

	overlap := float64(matched)
	union := float64(len(keywords) + len(targetSet) - matched)
	jaccard := overlap / math.Max(union, 1)
	coverage := weighted / float64(len(keywords))

	return 0.4*jaccard + 0.6*coverage
}

func join(words []string) string {
	return strings.Join(words, " ")
}
