package services

import (
	"context"
	"time"

	"github.com/tbourn/go-order-bot/internal/classifier"
	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/panel"
	"github.com/tbourn/go-order-bot/internal/routing"
)

// SessionStore persists conversation sessions.
//
// CompareAndSwap writes s only if the stored version equals expectedVersion
// (an absent session has version 0) and stores it with expectedVersion+1.
type SessionStore interface {
	Get(ctx context.Context, conversationID string) (domain.Session, bool, error)
	Put(ctx context.Context, s domain.Session) error
	CompareAndSwap(ctx context.Context, expectedVersion int64, s domain.Session) (bool, error)
	Delete(ctx context.Context, conversationID string) error
}

// CooldownStore persists last-dispatch times.
//
// CompareAndSet writes at only if the stored time equals prev; a zero prev
// means the key must be absent.
type CooldownStore interface {
	Get(ctx context.Context, key domain.CooldownKey) (time.Time, bool, error)
	Set(ctx context.Context, key domain.CooldownKey, at time.Time) error
	CompareAndSet(ctx context.Context, key domain.CooldownKey, prev, at time.Time) (bool, error)
}

// AccountBackend is the account side of the panel backend.
type AccountBackend interface {
	FindUser(ctx context.Context, username string) (domain.Account, error)
	IssueOTP(ctx context.Context, username string) (panel.OTP, error)
	Balance(ctx context.Context, username string) (domain.Account, error)
}

// OrderBackend fetches orders by id.
type OrderBackend interface {
	Order(ctx context.Context, id string) (domain.Order, error)
}

// Dispatcher delivers eligible orders to operator channels.
type Dispatcher interface {
	Route(ctx context.Context, action domain.Action, orders []domain.Order) routing.Outcome
}

// FallbackClassifier is the slow-path classifier.
type FallbackClassifier interface {
	Classify(ctx context.Context, text string, sc classifier.SessionContext) (classifier.Result, bool)
}
