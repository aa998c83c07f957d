// Package services – AuthService
//
// This file implements the authentication handshake that gates every order
// action. A conversation moves through
//
//	init → awaiting_userid → awaiting_confirmation → awaiting_otp → authenticated
//
// driven one message at a time by Step. The service never persists anything
// itself: it receives the current session and returns the next one together
// with the replies to send, so the caller owns storage and concurrency.
//
// Collaborator failures leave the session exactly as it was and produce an
// apology, so resending the same input retries the same step.
package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/intent"
	"github.com/tbourn/go-order-bot/internal/panel"
)

var (
	affirmative = tokenSet("yes", "y", "haan", "ha", "han", "ji", "correct", "right", "theek", "sahi")
	negative    = tokenSet("no", "n", "nahi", "na", "nai", "wrong", "galat", "incorrect")

	otpRe = regexp.MustCompile(`^\d{6}$`)
)

func tokenSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// AuthService runs the authentication state machine.
type AuthService struct {
	Accounts AccountBackend
	Replies  Replies
	// Trigger is the substring that wakes the bot up in an init session.
	Trigger string

	observe func(from, to domain.AuthState)
}

// NewAuthService constructs an AuthService. An empty trigger defaults to "bot".
func NewAuthService(accounts AccountBackend, replies Replies, trigger string) *AuthService {
	trigger = strings.ToLower(strings.TrimSpace(trigger))
	if trigger == "" {
		trigger = "bot"
	}
	return &AuthService{Accounts: accounts, Replies: replies, Trigger: trigger}
}

// OnTransition registers a callback invoked on every state change.
func (a *AuthService) OnTransition(fn func(from, to domain.AuthState)) { a.observe = fn }

// Step feeds one message into the state machine and returns the updated
// session and the replies to send. A session in init that is not triggered
// produces no replies.
func (a *AuthService) Step(ctx context.Context, s domain.Session, text string) (domain.Session, []string) {
	ctx, span := otel.Tracer("services/auth").Start(ctx, "Step",
		trace.WithAttributes(attribute.String("auth.state", string(s.State))))
	defer span.End()

	from := s.State
	next, replies := a.step(ctx, s, text)
	if next.State != from {
		span.SetAttributes(attribute.String("auth.next_state", string(next.State)))
		log.Debug().
			Str("component", "auth").
			Str("from", string(from)).
			Str("to", string(next.State)).
			Msg("auth transition")
		if a.observe != nil {
			a.observe(from, next.State)
		}
	}
	return next, replies
}

func (a *AuthService) step(ctx context.Context, s domain.Session, text string) (domain.Session, []string) {
	switch s.State {
	case domain.StateAwaitingUserID:
		return a.onUsername(ctx, s, text)
	case domain.StateAwaitingConfirmation:
		return a.onConfirmation(ctx, s, text)
	case domain.StateAwaitingOTP:
		return a.onOTP(ctx, s, text)
	case domain.StateAuthenticated:
		return s, nil
	}

	// init, or anything unknown, starts over.
	if !strings.Contains(intent.Normalize(text), a.Trigger) {
		return s, nil
	}
	n := s.Reset()
	n.Triggered = true
	n.State = domain.StateAwaitingUserID
	return n, []string{a.Replies.Welcome()}
}

func (a *AuthService) onUsername(ctx context.Context, s domain.Session, text string) (domain.Session, []string) {
	username := strings.TrimSpace(text)
	if username == "" || strings.ContainsAny(username, " \t\n") {
		return s, []string{a.Replies.UnknownUsername()}
	}

	acct, err := a.Accounts.FindUser(ctx, username)
	switch {
	case errors.Is(err, panel.ErrUserNotFound):
		return s, []string{a.Replies.UnknownUsername()}
	case err != nil:
		log.Warn().Err(err).Str("component", "auth").Msg("username lookup failed")
		return s, []string{a.Replies.LookupFailed()}
	}

	if acct.Username != "" {
		username = acct.Username
	}
	s.TempUserID = username
	s.State = domain.StateAwaitingConfirmation
	return s, []string{a.Replies.ConfirmUsername(username)}
}

func (a *AuthService) onConfirmation(ctx context.Context, s domain.Session, text string) (domain.Session, []string) {
	answer := strings.Trim(intent.Normalize(text), ".!?,; ")

	if _, ok := negative[answer]; ok {
		s.TempUserID = ""
		s.State = domain.StateAwaitingUserID
		return s, []string{a.Replies.ReenterUsername()}
	}
	if _, ok := affirmative[answer]; !ok {
		return s, []string{a.Replies.ConfirmUnclear()}
	}

	otp, err := a.Accounts.IssueOTP(ctx, s.TempUserID)
	if err != nil || otp.Code == "" {
		log.Warn().Err(err).Str("component", "auth").Msg("otp issuance failed")
		return s, []string{a.Replies.OTPFailed()}
	}

	s.UserID = s.TempUserID
	s.TempUserID = ""
	s.OTPCode = otp.Code
	s.TicketID = otp.TicketID
	s.State = domain.StateAwaitingOTP
	return s, []string{a.Replies.OTPSent(otp.TicketID)}
}

func (a *AuthService) onOTP(ctx context.Context, s domain.Session, text string) (domain.Session, []string) {
	code := strings.ReplaceAll(intent.Normalize(text), " ", "")
	if !otpRe.MatchString(code) {
		return s, []string{a.Replies.OTPFormat()}
	}
	if s.OTPCode == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.OTPCode)) != 1 {
		return s, []string{a.Replies.OTPMismatch()}
	}

	s.OTPCode = ""
	s.Verified = true
	s.State = domain.StateAuthenticated

	var balance string
	if acct, err := a.Accounts.Balance(ctx, s.UserID); err != nil {
		log.Warn().Err(err).Str("component", "auth").Msg("balance after verification failed")
	} else if !acct.Balance.IsZero() {
		balance = acct.Balance.String()
	}
	return s, []string{a.Replies.Verified(balance)}
}
