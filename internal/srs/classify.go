package srs

import (
	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// Classify places an item in the learning lifecycle from its
// scheduling state.
//
// An incorrect answer on a mastered item demotes it to learning, not
// new: Calculate resets the repetition counter but keeps the review
// history, so the item re-enters here as learning.
func Classify(cfg Config, data review.SRSData) review.ItemState {
	if data.Repetitions == 0 && data.LastReviewedAt == nil {
		return review.StateNew
	}
	if data.Interval >= cfg.GraduationIntervalDays &&
		data.Repetitions >= cfg.MasteryMinRepetitions &&
		data.RecentAccuracy() >= cfg.MasteryAccuracy {
		return review.StateMastered
	}
	return review.StateLearning
}
