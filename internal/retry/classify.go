package retry

import (
	"fmt"
	"strings"
)

// Class groups failure codes that share a retry policy and schedule.
type Class string

const (
	ClassCardDeclined      Class = "card_declined"
	ClassInsufficientFunds Class = "insufficient_funds"
	ClassProcessingError   Class = "processing_error"
	ClassCustomerAction    Class = "customer_action"
)

const DefaultMaxRetries = 4

// Policy is the retry decision for a failure code.
type Policy struct {
	Class       Class `json:"class"`
	MaxRetries  int   `json:"max_retries"`
	SkipRetries bool  `json:"skip_retries"`
}

// failureClasses maps gateway decline/failure codes to their class. Codes not
// listed here are treated as ClassCardDeclined.
var failureClasses = map[string]Class{
	"generic_decline":                 ClassCardDeclined,
	"card_declined":                   ClassCardDeclined,
	"do_not_honor":                    ClassCardDeclined,
	"try_again_later":                 ClassCardDeclined,
	"card_velocity_exceeded":          ClassCardDeclined,
	"withdrawal_count_limit_exceeded": ClassCardDeclined,
	"reenter_transaction":             ClassCardDeclined,
	"call_issuer":                     ClassCardDeclined,
	"not_permitted":                   ClassCardDeclined,
	"service_not_allowed":             ClassCardDeclined,
	"transaction_not_allowed":         ClassCardDeclined,

	"insufficient_funds": ClassInsufficientFunds,

	"processing_error":     ClassProcessingError,
	"issuer_not_available": ClassProcessingError,
	"approve_with_id":      ClassProcessingError,
	"rate_limit":           ClassProcessingError,

	"expired_card":            ClassCustomerAction,
	"authentication_required": ClassCustomerAction,
	"lost_card":               ClassCustomerAction,
	"stolen_card":             ClassCustomerAction,
	"card_not_supported":      ClassCustomerAction,
	"currency_not_supported":  ClassCustomerAction,
	"incorrect_number":        ClassCustomerAction,
	"invalid_number":          ClassCustomerAction,
	"invalid_account":         ClassCustomerAction,
	"pickup_card":             ClassCustomerAction,
	"restricted_card":         ClassCustomerAction,
}

// Classes lists every class in a stable order.
func Classes() []Class {
	return []Class{ClassCardDeclined, ClassInsufficientFunds, ClassProcessingError, ClassCustomerAction}
}

func parseClass(name string) (Class, error) {
	for _, c := range Classes() {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown failure class %q", name)
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ClassOf returns the class of a failure code. Unknown codes are treated as a
// generic card decline so they are still retried.
func ClassOf(code string) Class {
	if c, ok := failureClasses[normalizeCode(code)]; ok {
		return c
	}
	return ClassCardDeclined
}

// IsKnownCode reports whether code has an explicit entry in the table.
func IsKnownCode(code string) bool {
	_, ok := failureClasses[normalizeCode(code)]
	return ok
}

// Classifier maps failure codes to retry policies.
type Classifier struct {
	maxRetries map[Class]int
}

// NewClassifier builds a classifier. overrides maps class names to a max retry
// count; classes not present keep DefaultMaxRetries. The customer action class
// cannot be overridden.
func NewClassifier(overrides map[string]int) (*Classifier, error) {
	c := &Classifier{maxRetries: map[Class]int{
		ClassCardDeclined:      DefaultMaxRetries,
		ClassInsufficientFunds: DefaultMaxRetries,
		ClassProcessingError:   DefaultMaxRetries,
		ClassCustomerAction:    0,
	}}
	for name, n := range overrides {
		class, err := parseClass(name)
		if err != nil {
			return nil, err
		}
		if class == ClassCustomerAction {
			return nil, fmt.Errorf("max retries for %s cannot be overridden", class)
		}
		if n < 0 {
			return nil, fmt.Errorf("max retries for %s must be >= 0, got %d", class, n)
		}
		c.maxRetries[class] = n
	}
	return c, nil
}

// DefaultClassifier returns a classifier without overrides.
func DefaultClassifier() *Classifier {
	c, _ := NewClassifier(nil)
	return c
}

// Classify returns the retry policy for a failure code.
func (c *Classifier) Classify(code string) Policy {
	class := ClassOf(code)
	if class == ClassCustomerAction {
		return Policy{Class: class, MaxRetries: 0, SkipRetries: true}
	}
	return Policy{Class: class, MaxRetries: c.maxRetries[class]}
}
