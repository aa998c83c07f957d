// Package services – OrderService
//
// This file implements the order-action pipeline: given an authenticated
// session and an intent carrying an action and order ids it
//
//  1. deduplicates the ids, keeping first-appearance order;
//  2. rejects the whole batch if any (owner, order, action) key is still
//     inside the cooldown window;
//  3. records the cooldown for every id before anything is delivered, using
//     compare-and-set so two concurrent submissions cannot both pass;
//  4. fetches each order sequentially and sets aside unknown, foreign and
//     unreadable ids;
//  5. buckets the accessible orders by eligibility and routes the eligible
//     ones to their providers;
//  6. renders a single reply (direct for one order, grouped for several).
//
// Cooldowns are recorded before delivery on purpose: a failed delivery still
// blocks a resend for the window instead of risking a duplicate dispatch.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/panel"
	"github.com/tbourn/go-order-bot/internal/routing"
)

// Defaults for OrderService.
const (
	DefaultCooldownWindow = 3 * time.Hour
	DefaultMaxOrderIDs    = 50
)

// bucketOrder fixes the order in which buckets appear in grouped replies.
var bucketOrder = map[domain.Action][]Bucket{
	domain.ActionCancel: {BucketCompleted, BucketCanceled, BucketOther, BucketEligible},
	domain.ActionSpeed:  {BucketFinished, BucketWaiting, BucketEligible},
	domain.ActionRefill: {BucketNotCompleted, BucketNoRefill, BucketExpired, BucketNoDate, BucketNoPolicy, BucketEligible},
}

// Report is the outcome of one Execute call. Replies is always set, also
// when Execute returns an error.
type Report struct {
	Action      domain.Action
	OrderIDs    []string
	NotFound    []string
	Forbidden   []string
	Unavailable []string
	Buckets     map[Bucket][]string
	Verdicts    map[string]Verdict
	Outcome     routing.Outcome
	Replies     []string
}

// OrderService runs order actions for authenticated sessions.
type OrderService struct {
	Orders    OrderBackend
	Cooldowns CooldownStore
	Router    Dispatcher
	Replies   Replies

	// Window is the minimum time between dispatches of one key.
	Window time.Duration
	// MaxOrderIDs caps the number of distinct ids per message.
	MaxOrderIDs int
	// Now is the clock; tests replace it.
	Now func() time.Time

	onCooldownHit func(a domain.Action)
	onBucket      func(a domain.Action, b Bucket, n int)
}

// NewOrderService constructs an OrderService with default window and cap.
func NewOrderService(orders OrderBackend, cooldowns CooldownStore, router Dispatcher, replies Replies) *OrderService {
	return &OrderService{
		Orders:      orders,
		Cooldowns:   cooldowns,
		Router:      router,
		Replies:     replies,
		Window:      DefaultCooldownWindow,
		MaxOrderIDs: DefaultMaxOrderIDs,
		Now:         time.Now,
	}
}

// OnCooldownHit registers a metrics callback for rejected batches.
func (s *OrderService) OnCooldownHit(fn func(a domain.Action)) { s.onCooldownHit = fn }

// OnBucket registers a metrics callback for eligibility outcomes.
func (s *OrderService) OnBucket(fn func(a domain.Action, b Bucket, n int)) { s.onBucket = fn }

// Execute runs the pipeline for in on behalf of sess.
func (s *OrderService) Execute(ctx context.Context, sess domain.Session, in domain.Intent) (Report, error) {
	ctx, span := otel.Tracer("services/orders").Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("order.action", string(in.Action)),
			attribute.String("intent.source", string(in.Source)),
		))
	defer span.End()

	rep, err := s.execute(ctx, sess, in)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrUpstreamUnavailable) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.SetAttributes(attribute.Int("order.count", len(rep.OrderIDs)))
	return rep, err
}

func (s *OrderService) execute(ctx context.Context, sess domain.Session, in domain.Intent) (Report, error) {
	rep := Report{Action: in.Action, OrderIDs: dedupe(in.OrderIDs)}
	l := log.With().Str("component", "orders").Str("action", string(in.Action)).Logger()

	if !sess.Authenticated() {
		rep.Replies = []string{s.Replies.AuthRequired()}
		return rep, ErrNotAuthenticated
	}
	if !in.HasAction() || len(rep.OrderIDs) == 0 {
		rep.Replies = []string{s.Replies.NeedOrderID()}
		return rep, ErrUserInput
	}
	if s.MaxOrderIDs > 0 && len(rep.OrderIDs) > s.MaxOrderIDs {
		rep.Replies = []string{s.Replies.TooManyOrders()}
		return rep, ErrTooManyOrders
	}

	if err := s.claim(ctx, sess, in.Action, rep.OrderIDs); err != nil {
		if errors.Is(err, ErrRateLimited) {
			l.Info().Int("orders", len(rep.OrderIDs)).Msg("batch rejected by cooldown")
			if s.onCooldownHit != nil {
				s.onCooldownHit(in.Action)
			}
			rep.Replies = []string{s.Replies.Cooldown()}
			return rep, err
		}
		l.Error().Err(err).Msg("cooldown store failed")
		rep.Replies = []string{s.Replies.Unavailable()}
		return rep, err
	}

	var accessible []domain.Order
	for _, id := range rep.OrderIDs {
		o, err := s.Lookup(ctx, sess, id)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			rep.NotFound = append(rep.NotFound, id)
		case errors.Is(err, ErrPermissionDenied):
			rep.Forbidden = append(rep.Forbidden, id)
		case err != nil:
			l.Warn().Err(err).Str("order_id", id).Msg("order fetch failed")
			rep.Unavailable = append(rep.Unavailable, id)
		default:
			accessible = append(accessible, o)
		}
	}

	now := s.Now()
	rep.Buckets = map[Bucket][]string{}
	rep.Verdicts = map[string]Verdict{}
	var eligible []domain.Order
	for _, o := range accessible {
		v := Evaluate(in.Action, o, now)
		rep.Verdicts[o.ID] = v
		rep.Buckets[v.Bucket] = append(rep.Buckets[v.Bucket], o.ID)
		if v.Eligible() {
			eligible = append(eligible, o)
		}
	}
	if s.onBucket != nil {
		for b, ids := range rep.Buckets {
			s.onBucket(in.Action, b, len(ids))
		}
	}

	if len(eligible) > 0 {
		rep.Outcome = s.Router.Route(ctx, in.Action, eligible)
	}

	rep.Replies = []string{s.render(rep, accessible)}
	l.Info().
		Int("orders", len(rep.OrderIDs)).
		Int("eligible", len(eligible)).
		Int("not_found", len(rep.NotFound)).
		Int("forbidden", len(rep.Forbidden)).
		Msg("order action processed")

	if len(accessible) == 0 && len(rep.Unavailable) > 0 {
		return rep, fmt.Errorf("%w: order lookups failed", ErrUpstreamUnavailable)
	}
	return rep, nil
}

// Lookup fetches one order on behalf of the session's account. Unknown ids
// yield ErrOrderNotFound, orders of another account ErrPermissionDenied and
// any other backend failure ErrUpstreamUnavailable.
func (s *OrderService) Lookup(ctx context.Context, sess domain.Session, id string) (domain.Order, error) {
	o, err := s.Orders.Order(ctx, id)
	switch {
	case errors.Is(err, panel.ErrOrderNotFound):
		return domain.Order{}, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	case err != nil:
		return domain.Order{}, fmt.Errorf("order %s: %w: %w", id, ErrUpstreamUnavailable, err)
	case !o.OwnedBy(sess.UserID):
		return domain.Order{}, fmt.Errorf("order %s: %w", id, ErrPermissionDenied)
	}
	if o.ID == "" {
		o.ID = id
	}
	return o, nil
}

// claim checks and records the cooldown for every id. Any key still inside
// the window, or a lost compare-and-set race, rejects the whole batch.
func (s *OrderService) claim(ctx context.Context, sess domain.Session, a domain.Action, ids []string) error {
	now := s.Now()
	keys := make([]domain.CooldownKey, len(ids))
	prev := make([]time.Time, len(ids))
	for i, id := range ids {
		keys[i] = domain.NewCooldownKey(sess, id, a)
		at, ok, err := s.Cooldowns.Get(ctx, keys[i])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		if ok && now.Sub(at) < s.Window {
			return ErrRateLimited
		}
		if ok {
			prev[i] = at
		}
	}
	for i, k := range keys {
		ok, err := s.Cooldowns.CompareAndSet(ctx, k, prev[i], now)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		if !ok {
			return ErrRateLimited
		}
	}
	return nil
}

func (s *OrderService) render(rep Report, accessible []domain.Order) string {
	var parts []string
	if len(rep.NotFound) > 0 {
		parts = append(parts, s.Replies.NotFoundOrders(rep.NotFound))
	}
	if len(rep.Forbidden) > 0 {
		parts = append(parts, s.Replies.ForbiddenOrders(rep.Forbidden))
	}
	if len(rep.Unavailable) > 0 {
		parts = append(parts, s.Replies.UnavailableOrders(rep.Unavailable))
	}

	switch {
	case len(accessible) == 0:
	case len(accessible) == 1:
		parts = append(parts, s.renderSingle(rep, accessible[0].ID))
	default:
		parts = append(parts, s.renderMany(rep)...)
	}

	if len(parts) == 0 {
		return s.Replies.Generic()
	}
	return strings.Join(parts, "\n\n")
}

func (s *OrderService) renderSingle(rep Report, id string) string {
	v := rep.Verdicts[id]
	if !v.Eligible() {
		return s.Replies.Ineligible(rep.Action, id, v)
	}
	switch {
	case len(rep.Outcome.IDs(routing.Failed)) > 0:
		return s.Replies.DeliveryFailed(rep.Action, []string{id})
	case len(rep.Outcome.IDs(routing.Escalated)) > 0:
		return s.Replies.Escalated(rep.Action, []string{id})
	}
	return s.Replies.Processed(rep.Action, id)
}

func (s *OrderService) renderMany(rep Report) []string {
	var parts []string
	for _, b := range bucketOrder[rep.Action] {
		ids := rep.Buckets[b]
		if len(ids) == 0 {
			continue
		}
		parts = append(parts, s.Replies.bucketHeading(rep.Action, b)+" "+strings.Join(ids, ", "))
	}

	forwarded := rep.Outcome.IDs(routing.Forwarded)
	escalated := rep.Outcome.IDs(routing.Escalated)
	failed := rep.Outcome.IDs(routing.Failed)
	if len(forwarded) > 0 {
		parts = append(parts, s.Replies.ProcessedMany(rep.Action, forwarded))
	}
	if len(escalated) > 0 {
		parts = append(parts, s.Replies.Escalated(rep.Action, escalated))
	}
	if len(failed) > 0 {
		parts = append(parts, s.Replies.DeliveryFailed(rep.Action, failed))
	}
	if len(forwarded)+len(escalated)+len(failed) == 0 {
		parts = append(parts, s.Replies.NothingProcessed())
	}
	return parts
}

// dedupe removes repeated ids, keeping first appearance.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(id), "#"))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
