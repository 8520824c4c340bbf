package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		code       string
		class      Class
		maxRetries int
		skip       bool
	}{
		{"card_declined", ClassCardDeclined, 4, false},
		{"generic_decline", ClassCardDeclined, 4, false},
		{"do_not_honor", ClassCardDeclined, 4, false},
		{"insufficient_funds", ClassInsufficientFunds, 4, false},
		{"processing_error", ClassProcessingError, 4, false},
		{"expired_card", ClassCustomerAction, 0, true},
		{"authentication_required", ClassCustomerAction, 0, true},
		{"lost_card", ClassCustomerAction, 0, true},
		{"stolen_card", ClassCustomerAction, 0, true},
		{"card_not_supported", ClassCustomerAction, 0, true},
		{"  Expired_Card ", ClassCustomerAction, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			p := c.Classify(tt.code)
			assert.Equal(t, tt.class, p.Class)
			assert.Equal(t, tt.maxRetries, p.MaxRetries)
			assert.Equal(t, tt.skip, p.SkipRetries)
		})
	}
}

func TestClassify_UnknownCodeIsRetried(t *testing.T) {
	c := DefaultClassifier()

	for _, code := range []string{"", "something_new", "issuer_went_to_lunch"} {
		p := c.Classify(code)
		assert.False(t, p.SkipRetries, "code %q must not skip retries", code)
		assert.Equal(t, c.Classify("generic_decline"), p, "code %q", code)
		assert.False(t, IsKnownCode(code))
	}
}

func TestNewClassifier_Overrides(t *testing.T) {
	c, err := NewClassifier(map[string]int{"insufficient_funds": 6})
	require.NoError(t, err)
	assert.Equal(t, 6, c.Classify("insufficient_funds").MaxRetries)
	assert.Equal(t, DefaultMaxRetries, c.Classify("card_declined").MaxRetries)
}

func TestNewClassifier_RejectsBadOverrides(t *testing.T) {
	_, err := NewClassifier(map[string]int{"not_a_class": 2})
	assert.Error(t, err)

	_, err = NewClassifier(map[string]int{"customer_action": 2})
	assert.Error(t, err)

	_, err = NewClassifier(map[string]int{"card_declined": -1})
	assert.Error(t, err)
}
