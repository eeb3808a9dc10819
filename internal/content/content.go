// Package content holds the adapter boundary between raw
// subject-matter records and the canonical reviewable-item shape, plus
// the answer validator the session manager treats as an opaque
// predicate. The engine core never inspects raw formats; it consumes
// these interfaces only.
package content

import (
	"math/rand"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// Adapter turns raw subject-matter records into reviewable items.
type Adapter interface {
	// Transform converts one raw record. The concrete raw type is
	// adapter-specific.
	Transform(raw any) (review.ReviewableContent, error)
	// GenerateOptions picks n distractors for multiple-choice modes.
	GenerateOptions(content review.ReviewableContent, pool []review.ReviewableContent, n int) []review.ReviewableContent
}

// Validation is the outcome of checking a user's answer.
type Validation struct {
	Correct        bool
	ExpectedAnswer string
	Feedback       string
}

// AnswerValidator checks a user's answer against an item's accepted
// answers.
type AnswerValidator interface {
	Validate(expected review.ReviewableContent, actual string) Validation
}

// GenerateOptions picks up to n distractors from the pool, excluding
// the content itself and anything sharing an accepted answer with it.
func GenerateOptions(rng *rand.Rand, content review.ReviewableContent, pool []review.ReviewableContent, n int) []review.ReviewableContent {
	var candidates []review.ReviewableContent
	for _, c := range pool {
		if c.ID == content.ID || Normalize(c.PrimaryAnswer) == Normalize(content.PrimaryAnswer) {
			continue
		}
		candidates = append(candidates, c)
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}
