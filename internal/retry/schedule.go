package retry

import (
	"fmt"
	"time"

	"github.com/shohag/reclaim/internal/models"
)

const day = 24 * time.Hour

// DefaultSchedules holds the offsets, measured from the original failure, at
// which each attempt is made. Index i is the offset of attempt i+1.
var DefaultSchedules = map[Class][]time.Duration{
	ClassCardDeclined:      {4 * time.Hour, 24 * time.Hour, 72 * time.Hour, 7 * day},
	ClassInsufficientFunds: {24 * time.Hour, 3 * day, 7 * day, 14 * day},
	ClassProcessingError:   {1 * time.Hour, 4 * time.Hour, 24 * time.Hour, 72 * time.Hour},
	ClassCustomerAction:    nil,
}

// Scheduler computes when the next attempt for a payment is due.
type Scheduler struct {
	classifier *Classifier
	schedules  map[Class][]time.Duration
}

// NewScheduler builds a scheduler. overrides replaces the schedule of the named
// classes; offsets must be positive and strictly increasing.
func NewScheduler(classifier *Classifier, overrides map[string][]time.Duration) (*Scheduler, error) {
	schedules := make(map[Class][]time.Duration, len(DefaultSchedules))
	for class, offsets := range DefaultSchedules {
		schedules[class] = offsets
	}
	for name, offsets := range overrides {
		class, err := parseClass(name)
		if err != nil {
			return nil, err
		}
		if class == ClassCustomerAction {
			return nil, fmt.Errorf("schedule for %s cannot be overridden", class)
		}
		if err := validateOffsets(offsets); err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", class, err)
		}
		schedules[class] = offsets
	}
	return &Scheduler{classifier: classifier, schedules: schedules}, nil
}

// DefaultScheduler returns a scheduler using DefaultSchedules and the default classifier.
func DefaultScheduler() *Scheduler {
	s, _ := NewScheduler(DefaultClassifier(), nil)
	return s
}

func validateOffsets(offsets []time.Duration) error {
	var prev time.Duration
	for i, d := range offsets {
		if d <= 0 {
			return fmt.Errorf("offset %d must be positive, got %s", i, d)
		}
		if d <= prev {
			return fmt.Errorf("offset %d (%s) must be after offset %d (%s)", i, d, i-1, prev)
		}
		prev = d
	}
	return nil
}

// Classifier returns the classifier the scheduler consults.
func (s *Scheduler) Classifier() *Classifier {
	return s.classifier
}

// Schedule returns the offsets used for a class.
func (s *Scheduler) Schedule(class Class) []time.Duration {
	return s.schedules[class]
}

// NextRetryTime returns when the attempt following p.RetryCount completed
// attempts is due, or nil when no further attempt should be scheduled. The
// schedule table wins over MaxRetries when it is shorter. A slot that already
// lies in the past is returned as now.
func (s *Scheduler) NextRetryTime(p *models.FailedPayment, now time.Time) *time.Time {
	policy := s.classifier.Classify(p.FailureCode)
	if policy.SkipRetries {
		return nil
	}
	if p.RetryCount >= p.MaxRetries {
		return nil
	}
	offsets := s.schedules[policy.Class]
	if p.RetryCount < 0 || p.RetryCount >= len(offsets) {
		return nil
	}

	anchor := p.CreatedAt
	if anchor.IsZero() {
		anchor = now
	}
	next := anchor.Add(offsets[p.RetryCount]).UTC()
	if next.Before(now) {
		next = now.UTC()
	}
	return &next
}
