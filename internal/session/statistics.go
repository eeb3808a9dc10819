package session

import (
	"fmt"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// applyAnswer folds one answered item into the running statistics.
// Accuracy is computed over answered items only; skips never touch it.
func applyAnswer(s *review.SessionStatistics, bucket string, correct bool, responseMs int64, now time.Time) {
	s.CompletedItems++
	if correct {
		s.CorrectItems++
		s.CurrentStreak++
		if s.CurrentStreak > s.BestStreak {
			s.BestStreak = s.CurrentStreak
		}
	} else {
		s.IncorrectItems++
		s.CurrentStreak = 0
	}
	s.Accuracy = float64(s.CorrectItems) / float64(s.CompletedItems) * 100

	// Running mean so the whole response history never needs reloading.
	s.AvgResponseMs += (float64(responseMs) - s.AvgResponseMs) / float64(s.CompletedItems)

	if s.PerDifficulty == nil {
		s.PerDifficulty = make(map[string]review.BucketStats)
	}
	b := s.PerDifficulty[bucket]
	b.Completed++
	if correct {
		b.Correct++
	}
	s.PerDifficulty[bucket] = b

	s.UpdatedAt = now
}

// applyRetry amends the counts when an incorrectly answered item is
// answered again. The item stays completed; only its correctness can
// flip. Streaks and response times keep their first-answer values.
func applyRetry(s *review.SessionStatistics, bucket string, nowCorrect bool, now time.Time) {
	if nowCorrect {
		s.IncorrectItems--
		s.CorrectItems++
		b := s.PerDifficulty[bucket]
		b.Correct++
		s.PerDifficulty[bucket] = b
		s.Accuracy = float64(s.CorrectItems) / float64(s.CompletedItems) * 100
	}
	s.UpdatedAt = now
}

func applySkip(s *review.SessionStatistics, now time.Time) {
	s.SkippedItems++
	s.UpdatedAt = now
}

// Recompute derives statistics from scratch off the session items. It
// exists as an integrity check against the incremental path; best
// streak and response-time history are not reconstructible from items
// alone, so it fills the counting fields only.
func Recompute(sess *review.ReviewSession) *review.SessionStatistics {
	s := &review.SessionStatistics{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		TotalItems:    len(sess.Items),
		PerDifficulty: make(map[string]review.BucketStats),
	}
	for _, item := range sess.Items {
		if item.Skipped {
			s.SkippedItems++
			continue
		}
		if item.AnsweredAt == nil {
			continue
		}
		s.CompletedItems++
		bucket := item.Content.DifficultyBucket()
		b := s.PerDifficulty[bucket]
		b.Completed++
		if item.Correct {
			s.CorrectItems++
			b.Correct++
		} else {
			s.IncorrectItems++
		}
		s.PerDifficulty[bucket] = b
	}
	if s.CompletedItems > 0 {
		s.Accuracy = float64(s.CorrectItems) / float64(s.CompletedItems) * 100
	}
	return s
}

// CheckInvariants verifies the statistics counting identities.
func CheckInvariants(s *review.SessionStatistics) error {
	if s.CorrectItems+s.IncorrectItems != s.CompletedItems {
		return fmt.Errorf("correct (%d) + incorrect (%d) != completed (%d)",
			s.CorrectItems, s.IncorrectItems, s.CompletedItems)
	}
	if s.CompletedItems+s.SkippedItems > s.TotalItems {
		return fmt.Errorf("completed (%d) + skipped (%d) exceeds total (%d)",
			s.CompletedItems, s.SkippedItems, s.TotalItems)
	}
	if s.Accuracy < 0 || s.Accuracy > 100 {
		return fmt.Errorf("accuracy %f out of range", s.Accuracy)
	}
	if s.BestStreak < s.CurrentStreak {
		return fmt.Errorf("best streak (%d) below current streak (%d)", s.BestStreak, s.CurrentStreak)
	}
	return nil
}
