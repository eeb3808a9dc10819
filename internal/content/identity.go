package content

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// Normalize cleans one content field for comparison and hashing: it
// lowercases, trims whitespace, and normalizes line endings.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return s
}

// Identity returns a stable sha256 id for a reviewable item, derived
// from its normalized prompt, answer, and context. Cosmetic edits
// (casing, surrounding whitespace) do not change an item's identity,
// so scheduling state survives them.
func Identity(c review.ReviewableContent) string {
	// Fields are joined with a newline so "question"+"answer" cannot
	// collide with "questiona"+"nswer".
	normalized := strings.Join([]string{
		Normalize(c.Primary),
		Normalize(c.PrimaryAnswer),
		Normalize(c.Secondary),
	}, "\n")
	return fmt.Sprintf("%x", sha256.Sum256([]byte(normalized)))
}
