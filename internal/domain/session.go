// Package domain defines the core models shared by the intent, auth, order
// and routing layers. Types that are persisted carry GORM tags so the SQLite
// stores in package repo can map them directly.
package domain

import "time"

// AuthState is the position of a conversation in the authentication handshake.
type AuthState string

const (
	StateInit                 AuthState = "init"
	StateAwaitingUserID       AuthState = "awaiting_userid"
	StateAwaitingConfirmation AuthState = "awaiting_confirmation"
	StateAwaitingOTP          AuthState = "awaiting_otp"
	StateAuthenticated        AuthState = "authenticated"
)

// Valid reports whether s is one of the known states.
func (s AuthState) Valid() bool {
	switch s {
	case StateInit, StateAwaitingUserID, StateAwaitingConfirmation, StateAwaitingOTP, StateAuthenticated:
		return true
	}
	return false
}

// Session is the per-conversation authentication record.
//
// Verified is true iff State is StateAuthenticated. UserID is only set after
// the user confirmed TempUserID. Version increases on every successful write
// and backs compare-and-swap in the session stores.
type Session struct {
	ConversationID string    `gorm:"type:TEXT NOT NULL;primaryKey" json:"conversation_id"`
	State          AuthState `gorm:"type:TEXT NOT NULL" json:"state"`
	Triggered      bool      `gorm:"not null" json:"triggered"`
	UserID         string    `gorm:"type:TEXT" json:"user_id,omitempty"`
	TempUserID     string    `gorm:"type:TEXT" json:"temp_user_id,omitempty"`
	OTPCode        string    `gorm:"type:TEXT" json:"-"`
	TicketID       string    `gorm:"type:TEXT" json:"ticket_id,omitempty"`
	Verified       bool      `gorm:"not null" json:"verified"`
	Version        int64     `gorm:"not null" json:"version"`
	UpdatedAt      time.Time `gorm:"type:DATETIME" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Session) TableName() string { return "sessions" }

// NewSession returns the initial session for a conversation.
func NewSession(conversationID string) Session {
	return Session{ConversationID: conversationID, State: StateInit}
}

// Authenticated reports whether order actions may run for this session.
func (s Session) Authenticated() bool {
	return s.Verified && s.State == StateAuthenticated
}

// Reset returns a fresh init session for the same conversation, keeping the
// version so a compare-and-swap write still lines up.
func (s Session) Reset() Session {
	n := NewSession(s.ConversationID)
	n.Version = s.Version
	return n
}
