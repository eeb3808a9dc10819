package content

import (
	"fmt"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// DefaultValidator checks answers against the primary answer and all
// alternatives after normalization. With Fuzzy enabled, answers within
// one edit of an accepted answer also pass (for answers long enough
// that a single typo is plausibly not a different word).
type DefaultValidator struct {
	Fuzzy bool
}

var _ AnswerValidator = DefaultValidator{}

// fuzzyMinLen is the minimum accepted-answer length for fuzzy
// matching; below it a one-character edit is a different answer.
const fuzzyMinLen = 5

// Validate reports whether actual matches any accepted answer.
func (v DefaultValidator) Validate(expected review.ReviewableContent, actual string) Validation {
	got := Normalize(actual)
	accepted := append([]string{expected.PrimaryAnswer}, expected.AlternativeAnswers...)

	for _, want := range accepted {
		if got == Normalize(want) {
			return Validation{Correct: true, ExpectedAnswer: expected.PrimaryAnswer}
		}
	}

	if v.Fuzzy {
		for _, want := range accepted {
			w := Normalize(want)
			if len([]rune(w)) >= fuzzyMinLen && editDistance(got, w) == 1 {
				return Validation{
					Correct:        true,
					ExpectedAnswer: expected.PrimaryAnswer,
					Feedback:       fmt.Sprintf("close enough, the exact answer is %q", expected.PrimaryAnswer),
				}
			}
		}
	}

	return Validation{
		Correct:        false,
		ExpectedAnswer: expected.PrimaryAnswer,
	}
}

// editDistance is the Levenshtein distance between two strings, by
// rune.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
