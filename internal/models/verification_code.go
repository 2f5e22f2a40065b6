package models

import "time"

// VerificationCode is a short-lived numeric code sent to an email address,
// stored hashed.
type VerificationCode struct {
	CodeHash  string
	Email     string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}
