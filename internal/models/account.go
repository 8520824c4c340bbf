package models

import "time"

// Account is a connected merchant whose gateway account is monitored.
type Account struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	StripeAccountID string    `json:"stripe_account_id,omitempty"`
	WebhookSecret   string    `json:"webhook_secret,omitempty"`
	APIKey          string    `json:"api_key,omitempty"`
	Connected       bool      `json:"connected"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
