package vocab

import (
	"strings"

	"github.com/blevesearch/go-porterstemmer"
)

// Normalization cascade stages, in order.
const (
	StageExact  = "exact"
	StagePrefix = "prefix"
	StageStem   = "stem"
	StageFuzzy  = "fuzzy"
)

// StemConfidence is the fixed confidence for a Porter-stem equality match.
const StemConfidence = 0.67

// Match is the outcome of normalizing an extracted relationship type.
type Match struct {
	Type       string
	Category   string
	Confidence float64
	Stage      string
}

// Normalize resolves raw against the vocabulary: exact, then prefix in
// either direction, then Porter-stem equality, then normalized Levenshtein
// similarity >= fuzzyThreshold. The first stage that produces a match
// wins; no match means the relationship is rejected.
//
// Normalizing an already-registered name hits the exact stage, so the
// cascade is stable under re-application.
func (s Snapshot) Normalize(raw string, fuzzyThreshold float64) (Match, bool) {
	canon := Canonicalize(raw)
	if canon == "" {
		return Match{}, false
	}

	// Stage 1: exact name or synonym.
	for _, t := range s.Types {
		if canon == t.Name {
			return Match{Type: t.Name, Category: t.Category, Confidence: 1.0, Stage: StageExact}, true
		}
		for _, syn := range t.Synonyms {
			if canon == syn {
				return Match{Type: t.Name, Category: t.Category, Confidence: 1.0, Stage: StageExact}, true
			}
		}
	}

	// Stage 2: prefix in either direction, nearest length first.
	var best *Type
	bestDelta := 0
	for i := range s.Types {
		t := &s.Types[i]
		for _, cand := range candidates(t) {
			if reversesDirection(canon, cand) {
				continue
			}
			if strings.HasPrefix(cand, canon) || strings.HasPrefix(canon, cand) {
				delta := absInt(len(cand) - len(canon))
				if best == nil || delta < bestDelta || (delta == bestDelta && t.Name < best.Name) {
					best = t
					bestDelta = delta
				}
			}
		}
	}
	if best != nil {
		return Match{Type: best.Name, Category: best.Category, Confidence: 1.0, Stage: StagePrefix}, true
	}

	// Stage 3: Porter-stem equality.
	rawStem := stemKey(canon)
	for _, t := range s.Types {
		for _, cand := range candidates(&t) {
			if reversesDirection(canon, cand) {
				continue
			}
			if stemKey(cand) == rawStem {
				return Match{Type: t.Name, Category: t.Category, Confidence: StemConfidence, Stage: StageStem}, true
			}
		}
	}

	// Stage 4: normalized Levenshtein similarity.
	var fuzzyBest *Type
	fuzzySim := 0.0
	for i := range s.Types {
		t := &s.Types[i]
		for _, cand := range candidates(t) {
			if reversesDirection(canon, cand) {
				continue
			}
			sim := Similarity(canon, cand)
			if sim >= fuzzyThreshold && (fuzzyBest == nil || sim > fuzzySim || (sim == fuzzySim && t.Name < fuzzyBest.Name)) {
				fuzzyBest = t
				fuzzySim = sim
			}
		}
	}
	if fuzzyBest != nil {
		return Match{Type: fuzzyBest.Name, Category: fuzzyBest.Category, Confidence: fuzzySim, Stage: StageFuzzy}, true
	}

	return Match{}, false
}

func candidates(t *Type) []string {
	out := make([]string, 0, 1+len(t.Synonyms))
	out = append(out, t.Name)
	out = append(out, t.Synonyms...)
	return out
}

// reversesDirection blocks passive/active confusion: CAUSED_BY must not
// normalize to CAUSES.
func reversesDirection(a, b string) bool {
	return strings.HasSuffix(a, "_BY") != strings.HasSuffix(b, "_BY")
}

// stemKey stems each underscore token with the Porter stemmer.
func stemKey(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	for i, p := range parts {
		parts[i] = porterstemmer.StemString(p)
	}
	return strings.Join(parts, "_")
}

// Similarity is 1 - dist/maxLen over the canonicalized strings.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
