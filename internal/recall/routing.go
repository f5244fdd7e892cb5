package recall

import "strings"

// Keyword routing for Tier 1. The semantic layer is always consulted; the
// others join when the query's vocabulary suggests they will pay off.
var (
	temporalWords = []string{
		"last", "recent", "recently", "when", "history", "yesterday",
		"before", "ago", "error", "failed", "failure", "broke",
	}
	howToWords = []string{
		"how", "implement", "steps", "guide", "procedure",
	}
	taskWords = []string{
		"task", "should", "todo", "need to", "remind", "deadline",
	}
	relationWords = []string{
		"relate", "related", "between", "connected", "depends", "impact",
	}
)

// routeLayers picks which Tier 1 layers a query touches.
func routeLayers(query string) []string {
	q := strings.ToLower(query)

	layers := []string{"semantic"}
	if matchesAny(q, temporalWords) {
		layers = append(layers, "episodic")
	}
	if matchesAny(q, howToWords) {
		layers = append(layers, "procedural")
	}
	if matchesAny(q, taskWords) {
		layers = append(layers, "prospective")
	}
	if matchesAny(q, relationWords) {
		layers = append(layers, "graph")
	}
	return layers
}

func matchesAny(q string, words []string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}
