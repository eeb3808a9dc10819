// Package srs implements the spaced-repetition scheduler and the
// item-state classifier. Both are pure functions over review domain
// types; all tunables live in Config so deployments can adjust the
// curve without code changes.
package srs

import (
	"math"
	"time"

	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
)

// Config holds the scheduler tunables.
type Config struct {
	MinEaseFactor float64 `koanf:"min_ease_factor" validate:"gt=0"`
	MaxEaseFactor float64 `koanf:"max_ease_factor" validate:"gtfield=MinEaseFactor"`

	// FirstIntervalDays is the interval after the first successful
	// review and the floor every failed review resets to.
	FirstIntervalDays  int `koanf:"first_interval_days" validate:"min=1"`
	SecondIntervalDays int `koanf:"second_interval_days" validate:"min=1"`
	MaxIntervalDays    int `koanf:"max_interval_days" validate:"min=1"`

	// GraduationIntervalDays is the interval at which an item may be
	// considered mastered.
	GraduationIntervalDays int `koanf:"graduation_interval_days" validate:"min=1"`
	// MasteryAccuracy is the recent-accuracy floor for mastery, in [0,1].
	MasteryAccuracy float64 `koanf:"mastery_accuracy" validate:"gte=0,lte=1"`
	// MasteryMinRepetitions is the minimum successful-repeat count
	// before an item can graduate.
	MasteryMinRepetitions int `koanf:"mastery_min_repetitions" validate:"min=1"`

	// FastResponseMs is the threshold under which a correct answer
	// earns a quality bonus.
	FastResponseMs int64 `koanf:"fast_response_ms" validate:"min=1"`
	// SlowResponseFactor: a response slower than this multiple of the
	// item's rolling average triggers the interval dampener.
	SlowResponseFactor float64 `koanf:"slow_response_factor" validate:"gt=1"`
	// SlowResponsePenalty scales the computed interval for slow
	// answers, in (0,1].
	SlowResponsePenalty float64 `koanf:"slow_response_penalty" validate:"gt=0,lte=1"`
}

// DefaultConfig returns the reference tunables.
func DefaultConfig() Config {
	return Config{
		MinEaseFactor:          1.3,
		MaxEaseFactor:          2.5,
		FirstIntervalDays:      1,
		SecondIntervalDays:     6,
		MaxIntervalDays:        365,
		GraduationIntervalDays: 21,
		MasteryAccuracy:        0.9,
		MasteryMinRepetitions:  3,
		FastResponseMs:         3000,
		SlowResponseFactor:     1.5,
		SlowResponsePenalty:    0.9,
	}
}

// InitialEaseFactor is the ease assigned to an item never reviewed.
const InitialEaseFactor = 2.5

// New returns the scheduling state for an item that has never been
// reviewed: due immediately, at the initial ease.
func New(userID, itemID string, now time.Time) review.SRSData {
	return review.SRSData{
		UserID:       userID,
		ItemID:       itemID,
		EaseFactor:   InitialEaseFactor,
		NextReviewAt: startOfDay(now),
		UpdatedAt:    now,
	}
}

// Calculate returns the next scheduling state for an item given a
// review outcome. It is pure: the same inputs always produce the same
// output.
func Calculate(cfg Config, data review.SRSData, result review.ReviewResult, now time.Time) review.SRSData {
	q := Quality(cfg, result, data.AvgResponseMs)

	// SM-2 ease update, clamped into configured bounds.
	ease := data.EaseFactor
	if ease == 0 {
		ease = InitialEaseFactor
	}
	ease += 0.1 - (5-q)*(0.08+(5-q)*0.02)
	ease = math.Min(cfg.MaxEaseFactor, math.Max(cfg.MinEaseFactor, ease))

	next := data
	next.EaseFactor = ease

	if result.Correct {
		next.Repetitions = data.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.Interval = cfg.FirstIntervalDays
		case 2:
			next.Interval = cfg.SecondIntervalDays
		default:
			days := float64(data.Interval) * ease
			if slow(cfg, result.ResponseMs, data.AvgResponseMs) {
				days *= cfg.SlowResponsePenalty
			}
			next.Interval = int(math.Round(days))
		}
		if next.Interval < data.Interval {
			// Dampening never shrinks an interval below the previous
			// one on a correct answer.
			next.Interval = data.Interval
		}
		if next.Interval < cfg.FirstIntervalDays {
			next.Interval = cfg.FirstIntervalDays
		}
		if next.Interval > cfg.MaxIntervalDays {
			next.Interval = cfg.MaxIntervalDays
		}
	} else {
		next.Repetitions = 0
		next.Interval = cfg.FirstIntervalDays
	}

	reviewed := now
	next.LastReviewedAt = &reviewed
	// Due dates advance in calendar days so timezone shifts cannot
	// move them.
	next.NextReviewAt = startOfDay(now).AddDate(0, 0, next.Interval)

	if result.ResponseMs > 0 {
		if data.AvgResponseMs > 0 {
			next.AvgResponseMs = data.AvgResponseMs*0.8 + float64(result.ResponseMs)*0.2
		} else {
			next.AvgResponseMs = float64(result.ResponseMs)
		}
	}

	outcome := byte('0')
	if result.Correct {
		outcome = '1'
	}
	next.RecentResults = appendOutcome(data.RecentResults, outcome)
	next.UpdatedAt = now
	return next
}

// Quality maps a review outcome onto the SM-2 quality scale [0,5].
// An incorrect answer always lands in the failing band; a correct one
// never does, regardless of confidence or speed.
func Quality(cfg Config, result review.ReviewResult, avgResponseMs float64) float64 {
	if !result.Correct {
		return 1
	}
	q := 4.0
	if result.Confidence >= 1 && result.Confidence <= 5 {
		q = 3 + float64(result.Confidence-1)/2
	}
	if result.ResponseMs > 0 && result.ResponseMs <= cfg.FastResponseMs {
		q += 0.5
	}
	if slow(cfg, result.ResponseMs, avgResponseMs) {
		q -= 0.5
	}
	return math.Min(5, math.Max(3, q))
}

func slow(cfg Config, responseMs int64, avgResponseMs float64) bool {
	return avgResponseMs > 0 && float64(responseMs) > cfg.SlowResponseFactor*avgResponseMs
}

func appendOutcome(window string, outcome byte) string {
	w := window + string(outcome)
	if len(w) > review.RecentWindow {
		w = w[len(w)-review.RecentWindow:]
	}
	return w
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
