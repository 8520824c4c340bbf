package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/reclaim/internal/models"
)

var created = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func payment(code string, retryCount, maxRetries int) *models.FailedPayment {
	return &models.FailedPayment{
		FailureCode: code,
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		CreatedAt:   created,
	}
}

func TestNextRetryTime_PerClassSchedules(t *testing.T) {
	s := DefaultScheduler()

	tests := []struct {
		code    string
		offsets []time.Duration
	}{
		{"card_declined", []time.Duration{4 * time.Hour, 24 * time.Hour, 72 * time.Hour, 7 * 24 * time.Hour}},
		{"insufficient_funds", []time.Duration{24 * time.Hour, 3 * 24 * time.Hour, 7 * 24 * time.Hour, 14 * 24 * time.Hour}},
		{"processing_error", []time.Duration{time.Hour, 4 * time.Hour, 24 * time.Hour, 72 * time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			for i, offset := range tt.offsets {
				next := s.NextRetryTime(payment(tt.code, i, 4), created)
				require.NotNil(t, next, "attempt %d", i+1)
				assert.Equal(t, created.Add(offset), *next, "attempt %d", i+1)
			}
			assert.Nil(t, s.NextRetryTime(payment(tt.code, 4, 4), created))
		})
	}
}

func TestNextRetryTime_SkipClassNeverSchedules(t *testing.T) {
	s := DefaultScheduler()
	for _, code := range []string{"expired_card", "authentication_required", "stolen_card"} {
		assert.Nil(t, s.NextRetryTime(payment(code, 0, 0), created), code)
		assert.Nil(t, s.NextRetryTime(payment(code, 0, 4), created), code)
	}
}

func TestNextRetryTime_ScheduleTableIsAuthoritative(t *testing.T) {
	c, err := NewClassifier(map[string]int{"card_declined": 10})
	require.NoError(t, err)
	s, err := NewScheduler(c, nil)
	require.NoError(t, err)

	assert.NotNil(t, s.NextRetryTime(payment("card_declined", 3, 10), created))
	assert.Nil(t, s.NextRetryTime(payment("card_declined", 4, 10), created))
}

func TestNextRetryTime_MaxRetriesReached(t *testing.T) {
	s := DefaultScheduler()
	assert.Nil(t, s.NextRetryTime(payment("card_declined", 2, 2), created))
}

func TestNextRetryTime_PastSlotBecomesNow(t *testing.T) {
	s := DefaultScheduler()
	now := created.Add(10 * time.Hour)

	next := s.NextRetryTime(payment("card_declined", 0, 4), now)
	require.NotNil(t, next)
	assert.Equal(t, now, *next)

	next = s.NextRetryTime(payment("card_declined", 1, 4), now)
	require.NotNil(t, next)
	assert.Equal(t, created.Add(24*time.Hour), *next)
}

func TestNewScheduler_Overrides(t *testing.T) {
	s, err := NewScheduler(DefaultClassifier(), map[string][]time.Duration{
		"processing_error": {30 * time.Minute, 2 * time.Hour},
	})
	require.NoError(t, err)

	next := s.NextRetryTime(payment("processing_error", 0, 4), created)
	require.NotNil(t, next)
	assert.Equal(t, created.Add(30*time.Minute), *next)
	assert.Nil(t, s.NextRetryTime(payment("processing_error", 2, 4), created))
}

func TestNewScheduler_RejectsBadOverrides(t *testing.T) {
	tests := map[string]map[string][]time.Duration{
		"unknown class":   {"nope": {time.Hour}},
		"customer action": {"customer_action": {time.Hour}},
		"non increasing":  {"card_declined": {2 * time.Hour, time.Hour}},
		"zero offset":     {"card_declined": {0}},
	}
	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewScheduler(DefaultClassifier(), overrides)
			assert.Error(t, err)
		})
	}
}
