package selector

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Complexity is the coarse query-difficulty bucket driving cascade depth.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Cascade depth bounds.
const (
	MinDepth = 1
	MaxDepth = 3
)

// DepthDecision is the resolved cascade depth with its reasoning.
type DepthDecision struct {
	Depth       int        `json:"depth"`
	Complexity  Complexity `json:"complexity"`
	Explanation string     `json:"explanation"`
}

// scope vocabulary that marks a query as sweeping regardless of length
var scopeKeywords = []string{
	"comprehensive", "strategic", "considering all", "all constraints",
	"end to end", "end-to-end", "overall", "holistic", "across the",
}

// relational vocabulary that marks a query as connecting concepts
var relationKeywords = []string{
	" and ", "between", "relationship", "relate", "compare", "versus",
	" vs ", "impact", "affect", "depend", "interact",
}

// ClassifyComplexity buckets a query by length, clause structure, and scope
// vocabulary. Short single-clause questions are simple; questions tying two
// or more concepts together are moderate; multi-sentence or broad-scope
// queries are complex.
func ClassifyComplexity(query string) Complexity {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ComplexitySimple
	}

	if containsAny(q, scopeKeywords...) {
		return ComplexityComplex
	}
	if countSentences(q) > 1 {
		return ComplexityComplex
	}

	words := len(strings.Fields(q))
	clauses := strings.Count(q, ",") + 1
	if clauses >= 3 && words > 15 {
		return ComplexityComplex
	}
	if containsAny(q, relationKeywords...) || words > 10 {
		return ComplexityModerate
	}
	return ComplexitySimple
}

// SelectDepth decides cascade depth 1-3. An explicit depth (> 0) always
// wins. Complex queries always get full synthesis. Otherwise high average
// layer quality lets the cascade stay shallow, while low quality escalates
// one tier beyond what complexity alone would pick — unreliable layers
// need cross-checking.
//
// Pass nil layerQuality to derive an estimate from the task context.
func (s *Selector) SelectDepth(query string, explicitDepth int, layerQuality map[string]float64, taskContext map[string]string) DepthDecision {
	if explicitDepth > 0 {
		d := explicitDepth
		if d > MaxDepth {
			d = MaxDepth
		}
		return DepthDecision{
			Depth:       d,
			Complexity:  ClassifyComplexity(query),
			Explanation: fmt.Sprintf("User-specified depth: %d", explicitDepth),
		}
	}

	complexity := ClassifyComplexity(query)
	if complexity == ComplexityComplex {
		return DepthDecision{
			Depth:       MaxDepth,
			Complexity:  complexity,
			Explanation: "Tier 3 (Synthesis) — complex query requires full synthesis regardless of layer quality",
		}
	}

	if len(layerQuality) == 0 {
		layerQuality = DeriveLayerQuality(taskContext)
	}
	avg := averageQuality(layerQuality)

	base := MinDepth
	if complexity == ComplexityModerate {
		base = 2
	}

	var depth int
	var reason string
	switch {
	case avg <= LowQuality:
		depth = base + 1
		if depth > MaxDepth {
			depth = MaxDepth
		}
		reason = fmt.Sprintf("low average layer quality (%.2f) — escalating for cross-checking", avg)
	case avg >= HighQuality:
		depth = base
		reason = fmt.Sprintf("high average layer quality (%.2f) — %s query answered at base depth", avg, complexity)
	default:
		// Middling quality: simple queries still get enrichment.
		depth = base
		if depth < 2 {
			depth = 2
		}
		reason = fmt.Sprintf("middling layer quality (%.2f) — adding enrichment", avg)
	}

	decision := DepthDecision{Depth: depth, Complexity: complexity}
	switch depth {
	case 1:
		decision.Explanation = "Tier 1 (Fast) — " + reason
	case 2:
		decision.Explanation = "Tier 2 (Enrichment) — " + reason
	default:
		decision.Explanation = "Tier 3 (Synthesis) — " + reason
	}

	s.logger.Debug("depth selected",
		zap.Int("depth", decision.Depth),
		zap.String("complexity", string(complexity)),
		zap.Float64("avg_quality", avg))
	return decision
}

func averageQuality(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, q := range scores {
		sum += q
	}
	return sum / float64(len(scores))
}

func countSentences(q string) int {
	segments := strings.FieldsFunc(q, func(r rune) bool {
		return r == '.' || r == '?' || r == '!'
	})
	n := 0
	for _, seg := range segments {
		if strings.TrimSpace(seg) != "" {
			n++
		}
	}
	return n
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lower(s string) string { return strings.ToLower(s) }
