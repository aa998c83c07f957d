package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// ErrNoSupportChannel is reported for escalations when no support channel is set.
var ErrNoSupportChannel = errors.New("routing: no support channel configured")

// Sender delivers text to a channel. Implementations: the Matrix client and
// the SQLite outbox.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, channelID, text string) error

func (f SenderFunc) Send(ctx context.Context, channelID, text string) error {
	return f(ctx, channelID, text)
}

// Disposition is where an order ended up.
type Disposition string

const (
	// Forwarded orders went to their provider channel in a batch.
	Forwarded Disposition = "forwarded"
	// Escalated orders went to the support channel individually.
	Escalated Disposition = "escalated"
	// Failed orders could not be delivered anywhere.
	Failed Disposition = "failed"
)

// Result records one delivery attempt.
type Result struct {
	Provider    string
	Channel     string
	OrderIDs    []string
	Disposition Disposition
	Err         error
}

// Outcome is the ordered list of results for one Route call. Every order
// passed to Route appears in exactly one result.
type Outcome []Result

// IDs returns the order ids with the given disposition, in routing order.
func (o Outcome) IDs(d Disposition) []string {
	var out []string
	for _, r := range o {
		if r.Disposition == d {
			out = append(out, r.OrderIDs...)
		}
	}
	return out
}

// Router groups eligible orders by provider and delivers them.
type Router struct {
	dir    *Directory
	sender Sender
	// observe, when set, is told about every order's disposition.
	observe func(action domain.Action, d Disposition, n int)
}

// NewRouter builds a Router.
func NewRouter(dir *Directory, s Sender) *Router {
	return &Router{dir: dir, sender: s}
}

// OnDisposition registers a callback used for metrics.
func (r *Router) OnDisposition(fn func(action domain.Action, d Disposition, n int)) {
	r.observe = fn
}

type group struct {
	provider string
	orders   []domain.Order
}

// Route delivers action for orders. Orders are grouped by provider in order
// of first appearance. A group whose provider is unknown or resolves to the
// support channel, and any order without an external id, is escalated to
// support one order at a time with a diagnostic message. Other groups get a
// single "ext1,ext2 action" message on their provider channel; if that send
// fails the group is escalated instead.
func (r *Router) Route(ctx context.Context, action domain.Action, orders []domain.Order) Outcome {
	ctx, span := otel.Tracer("routing").Start(ctx, "Route",
		trace.WithAttributes(
			attribute.String("order.action", string(action)),
			attribute.Int("order.count", len(orders)),
		))
	defer span.End()

	var out Outcome
	for _, g := range groupByProvider(orders) {
		ch := r.dir.Resolve(g.provider)
		if g.provider == "" || ch == "" || ch == r.dir.Support() {
			out = append(out, r.escalate(ctx, action, g.orders, "Provider Group not found")...)
			continue
		}

		var batch, missing []domain.Order
		for _, o := range g.orders {
			if o.ExternalID == "" {
				missing = append(missing, o)
			} else {
				batch = append(batch, o)
			}
		}
		if len(missing) > 0 {
			out = append(out, r.escalate(ctx, action, missing, "External Id missing")...)
		}
		if len(batch) == 0 {
			continue
		}

		text := batchMessage(action, batch)
		if err := r.sender.Send(ctx, ch, text); err != nil {
			log.Warn().Err(err).
				Str("component", "routing").
				Str("provider", g.provider).
				Str("action", string(action)).
				Msg("provider forward failed, escalating")
			out = append(out, r.escalate(ctx, action, batch, "Provider forward failed")...)
			continue
		}
		log.Info().
			Str("component", "routing").
			Str("provider", g.provider).
			Str("action", string(action)).
			Int("orders", len(batch)).
			Msg("forwarded to provider")
		out = append(out, Result{
			Provider:    g.provider,
			Channel:     ch,
			OrderIDs:    ids(batch),
			Disposition: Forwarded,
		})
		r.record(action, Forwarded, len(batch))
	}

	span.SetAttributes(
		attribute.Int("routing.forwarded", len(out.IDs(Forwarded))),
		attribute.Int("routing.escalated", len(out.IDs(Escalated))),
		attribute.Int("routing.failed", len(out.IDs(Failed))),
	)
	return out
}

func (r *Router) escalate(ctx context.Context, action domain.Action, orders []domain.Order, reason string) []Result {
	support := r.dir.Support()
	res := make([]Result, 0, len(orders))
	for _, o := range orders {
		item := Result{Provider: o.Provider, Channel: support, OrderIDs: []string{o.ID}, Disposition: Escalated}
		var err error
		if support == "" {
			err = ErrNoSupportChannel
		} else {
			err = r.sender.Send(ctx, support, SupportMessage(reason, action, o))
		}
		if err != nil {
			log.Error().Err(err).
				Str("component", "routing").
				Str("order_id", o.ID).
				Str("action", string(action)).
				Msg("support escalation failed")
			item.Disposition = Failed
			item.Err = err
		}
		r.record(action, item.Disposition, 1)
		res = append(res, item)
	}
	return res
}

func (r *Router) record(action domain.Action, d Disposition, n int) {
	if r.observe != nil {
		r.observe(action, d, n)
	}
}

func groupByProvider(orders []domain.Order) []group {
	idx := map[string]int{}
	var groups []group
	for _, o := range orders {
		key := providerKey(o.Provider)
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, group{provider: key})
		}
		groups[i].orders = append(groups[i].orders, o)
	}
	return groups
}

func batchMessage(action domain.Action, orders []domain.Order) string {
	ext := make([]string, len(orders))
	for i, o := range orders {
		ext[i] = o.ExternalID
	}
	return strings.Join(ext, ",") + " " + string(action)
}

// SupportMessage is the diagnostic sent to the support channel for one order.
func SupportMessage(reason string, action domain.Action, o domain.Order) string {
	return fmt.Sprintf("%s\n\nOrder id : %s\nCommand : %s\nProvider : %s\nExternal Id : %s",
		reason, o.ID, action, orNA(o.Provider), orNA(o.ExternalID))
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func ids(orders []domain.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
