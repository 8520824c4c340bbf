package gateway

import "fmt"

// Outcome classifies the result of a retry attempt against the gateway.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeCardError    Outcome = "card_error"
	OutcomeGatewayError Outcome = "gateway_error"
)

type Result struct {
	Outcome Outcome `json:"outcome"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`
}

func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Error renders the failure for a retry history entry.
func (r Result) Error() string {
	switch {
	case r.Succeeded():
		return ""
	case r.Code != "" && r.Message != "":
		return fmt.Sprintf("%s: %s", r.Code, r.Message)
	case r.Code != "":
		return r.Code
	case r.Message != "":
		return r.Message
	}
	return string(r.Outcome)
}
