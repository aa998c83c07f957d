// Package services – Assistant
//
// This file implements the single entry point of the bot:
// HandleMessage(conversationID, text) → replies. It loads the session, sends
// unauthenticated conversations through AuthService and routes authenticated
// ones through a fixed precedence:
//
//	deterministic action with ids → OrderService
//	topic (thanks, help, links, balance, spent)
//	order details / keyword without ids / bare order id
//	fallback classifier (action re-resolved by the matcher)
//	suggestion
//
// Messages of one conversation are serialized with a per-conversation lock;
// the session is written back with compare-and-swap so a second process
// sharing the store cannot silently overwrite a concurrent transition.
// Any panic is recovered into a generic apology and the session is kept.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/classifier"
	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/intent"
	"github.com/tbourn/go-order-bot/internal/sysutil"
)

// OperatorChannels tells customer conversations apart from provider and
// support channels.
type OperatorChannels interface {
	IsOperatorChannel(id string) bool
}

// Assistant ties the session store, the classifiers and the services together.
type Assistant struct {
	Sessions  SessionStore
	Auth      *AuthService
	Orders    *OrderService
	Accounts  AccountBackend
	Matcher   *intent.Matcher
	Fallback  FallbackClassifier
	Operators OperatorChannels
	Replies   Replies

	mu    sync.Mutex
	locks map[string]*convLock

	onIntent func(src domain.Source, a domain.Action, t domain.Topic)
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewAssistant constructs an Assistant. fallback and operators may be nil.
func NewAssistant(sessions SessionStore, auth *AuthService, orders *OrderService, accounts AccountBackend,
	m *intent.Matcher, fallback FallbackClassifier, operators OperatorChannels, replies Replies) *Assistant {
	if m == nil {
		m = intent.Default()
	}
	return &Assistant{
		Sessions:  sessions,
		Auth:      auth,
		Orders:    orders,
		Accounts:  accounts,
		Matcher:   m,
		Fallback:  fallback,
		Operators: operators,
		Replies:   replies,
		locks:     map[string]*convLock{},
	}
}

// OnIntent registers a metrics callback invoked once per classified message.
func (a *Assistant) OnIntent(fn func(src domain.Source, act domain.Action, t domain.Topic)) {
	a.onIntent = fn
}

// lock serializes work per conversation and releases the entry when unused.
func (a *Assistant) lock(id string) func() {
	a.mu.Lock()
	l, ok := a.locks[id]
	if !ok {
		l = &convLock{}
		a.locks[id] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, id)
		}
		a.mu.Unlock()
	}
}

// HandleMessage processes one inbound message and returns zero or more replies.
func (a *Assistant) HandleMessage(ctx context.Context, conversationID, text string) (replies []string) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}
	if a.Operators != nil && a.Operators.IsOperatorChannel(conversationID) {
		return nil
	}

	ctx, span := otel.Tracer("services/assistant").Start(ctx, "HandleMessage",
		trace.WithAttributes(attribute.String("conversation.hash", sysutil.RedactID(conversationID))))
	defer span.End()

	l := log.With().
		Str("component", "assistant").
		Str("conversation", sysutil.RedactID(conversationID)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("recovered while handling message")
			span.RecordError(fmt.Errorf("panic: %v", r))
			replies = []string{a.Replies.Generic()}
		}
	}()

	if strings.TrimSpace(text) == "!ping" {
		return []string{"pong"}
	}

	unlock := a.lock(conversationID)
	defer unlock()

	sess, ok, err := a.Sessions.Get(ctx, conversationID)
	if err != nil {
		l.Error().Err(err).Msg("session load failed")
		return []string{a.Replies.Unavailable()}
	}
	if !ok {
		sess = domain.NewSession(conversationID)
	}

	next, out := a.dispatch(ctx, sess, text)
	span.SetAttributes(attribute.String("auth.state", string(next.State)))

	if next != sess {
		swapped, err := a.Sessions.CompareAndSwap(ctx, sess.Version, next)
		switch {
		case err != nil:
			l.Error().Err(err).Msg("session save failed")
			return []string{a.Replies.Unavailable()}
		case !swapped:
			l.Warn().Msg("session changed concurrently, transition dropped")
			return []string{a.Replies.Generic()}
		}
	}
	return out
}

func (a *Assistant) dispatch(ctx context.Context, s domain.Session, text string) (domain.Session, []string) {
	if intent.Topic(text) == domain.TopicLogout {
		a.observe(domain.SourceDeterministic, domain.ActionNone, domain.TopicLogout)
		return a.logout(s)
	}

	if !s.Authenticated() {
		// Before the trigger word every message is dropped silently; Step
		// handles the trigger itself.
		if s.Triggered || s.State != domain.StateInit {
			if in, ok := a.Matcher.Match(text); ok && in.HasAction() && len(in.OrderIDs) > 0 {
				return s, []string{a.Replies.AuthRequired()}
			}
		}
		return a.Auth.Step(ctx, s, text)
	}
	return s, a.authenticated(ctx, s, text)
}

func (a *Assistant) logout(s domain.Session) (domain.Session, []string) {
	if !s.Triggered && s.State == domain.StateInit {
		return s, nil
	}
	return s.Reset(), []string{a.Replies.LoggedOut()}
}

func (a *Assistant) authenticated(ctx context.Context, s domain.Session, text string) []string {
	in, matched := a.Matcher.Match(text)
	if matched && len(in.OrderIDs) > 0 {
		a.observe(in.Source, in.Action, domain.TopicNone)
		return a.runOrders(ctx, s, in)
	}

	if t := intent.Topic(text); t != domain.TopicNone {
		a.observe(domain.SourceDeterministic, domain.ActionNone, t)
		return a.topic(ctx, s, t)
	}
	if id, ok := intent.DetailsOrderID(text); ok {
		a.observe(domain.SourceDeterministic, domain.ActionNone, domain.TopicNone)
		return []string{a.details(ctx, s, id)}
	}
	if matched {
		a.observe(in.Source, in.Action, domain.TopicNone)
		return []string{a.Replies.NeedOrderID()}
	}
	if id, ok := intent.BareOrderID(text); ok {
		return []string{a.Replies.BareOrderID(id)}
	}

	if a.Fallback != nil {
		res, ok := a.Fallback.Classify(ctx, text, classifier.SessionContext{Authenticated: true, State: s.State})
		if ok {
			return a.fromFallback(ctx, s, text, res)
		}
	}
	return []string{a.Replies.Suggestion()}
}

func (a *Assistant) fromFallback(ctx context.Context, s domain.Session, text string, res classifier.Result) []string {
	if res.Action != domain.ActionNone {
		in := res.Intent()
		in.Action = a.Matcher.Resolve(text, res.Action)
		in.OrderIDs = confirmedIDs(in.OrderIDs, intent.OrderIDs(intent.Normalize(text)))
		a.observe(domain.SourceFallback, in.Action, domain.TopicNone)
		if len(in.OrderIDs) == 0 {
			return []string{a.Replies.NeedOrderID()}
		}
		return a.runOrders(ctx, s, in)
	}

	a.observe(domain.SourceFallback, domain.ActionNone, res.Topic)
	switch res.Topic {
	case domain.TopicGeneral:
		if strings.TrimSpace(res.Reply) != "" {
			return []string{res.Reply}
		}
	case domain.TopicNone, domain.TopicLogout:
		// logout from the model is not trusted; the deterministic rule handles it.
	default:
		return a.topic(ctx, s, res.Topic)
	}
	return []string{a.Replies.Suggestion()}
}

// confirmedIDs keeps the proposed ids that actually occur in the message.
// With no proposal every id found in the message is used.
func confirmedIDs(proposed, inText []string) []string {
	if len(proposed) == 0 {
		return inText
	}
	present := make(map[string]struct{}, len(inText))
	for _, id := range inText {
		present[id] = struct{}{}
	}
	var out []string
	for _, id := range proposed {
		if _, ok := present[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (a *Assistant) runOrders(ctx context.Context, s domain.Session, in domain.Intent) []string {
	rep, err := a.Orders.Execute(ctx, s, in)
	if err != nil {
		log.Debug().Err(err).Str("component", "assistant").Msg("order action not dispatched")
	}
	return rep.Replies
}

func (a *Assistant) topic(ctx context.Context, s domain.Session, t domain.Topic) []string {
	switch t {
	case domain.TopicThanks:
		return []string{a.Replies.Thanks()}
	case domain.TopicHelp:
		return []string{a.Replies.Help()}
	case domain.TopicServices, domain.TopicSite, domain.TopicTerms, domain.TopicRefundPolicy:
		return []string{a.Replies.Link(t)}
	case domain.TopicBalance, domain.TopicSpent, domain.TopicAccountSummary:
		acct, err := a.Accounts.Balance(ctx, s.UserID)
		if err != nil {
			log.Warn().Err(err).Str("component", "assistant").Msg("balance lookup failed")
			return []string{a.Replies.AccountFailed()}
		}
		return []string{a.Replies.Account(t, acct)}
	}
	return []string{a.Replies.Suggestion()}
}

func (a *Assistant) details(ctx context.Context, s domain.Session, id string) string {
	o, err := a.Orders.Lookup(ctx, s, id)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return a.Replies.OrderNotFound(id)
	case errors.Is(err, ErrPermissionDenied):
		return a.Replies.OrderForbidden(id)
	case err != nil:
		log.Warn().Err(err).Str("component", "assistant").Str("order_id", id).Msg("order details failed")
		return a.Replies.Unavailable()
	}
	return a.Replies.OrderDetails(o)
}

func (a *Assistant) observe(src domain.Source, act domain.Action, t domain.Topic) {
	if a.onIntent != nil {
		a.onIntent(src, act, t)
	}
}
