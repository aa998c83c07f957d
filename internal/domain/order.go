package domain

import (
	"strings"
	"time"
)

// Money is an amount as reported by the panel backend.
type Money struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
	Formatted    string `json:"formatted"`
}

// IsZero reports whether the backend sent no amount at all.
func (m Money) IsZero() bool { return m.Value == "" && m.Formatted == "" }

// String prefers the backend's own formatting.
func (m Money) String() string {
	if m.Formatted != "" {
		return m.Formatted
	}
	return strings.TrimSpace(m.Value + " " + m.CurrencyCode)
}

// Account is the confirmed panel user and their funds.
type Account struct {
	Username string
	Balance  Money
	Spent    Money
}

// Order is the read-only projection of a backend order used by the pipeline.
// Owner must match the session user or the order is inaccessible.
type Order struct {
	ID          string
	Owner       string
	Status      string
	Provider    string
	ExternalID  string
	ServiceName string
	Created     time.Time
	Link        string
	Charge      Money
	Quantity    string
}

// NormalizedStatus lower-cases the status and replaces underscores with spaces.
func (o Order) NormalizedStatus() string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ToLower(o.Status), "_", " "))
}

// OwnedBy compares the order owner with a username, case-insensitively.
func (o Order) OwnedBy(username string) bool {
	return username != "" && strings.EqualFold(strings.TrimSpace(o.Owner), strings.TrimSpace(username))
}
