package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/routing"
	"github.com/tbourn/go-order-bot/internal/services"
)

// BotMetrics counts what the assistant decided. Every label takes values
// from a small fixed set (actions, topics, states, dispositions), never
// conversation or order ids.
type BotMetrics struct {
	Intents      *prometheus.CounterVec
	Dispatches   *prometheus.CounterVec
	Buckets      *prometheus.CounterVec
	CooldownHits *prometheus.CounterVec
	AuthSteps    *prometheus.CounterVec
	Classifier   *prometheus.CounterVec
}

// NewBotMetrics creates the collectors and registers them with reg.
func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_intents_total",
			Help: "Classified messages by source, action and topic.",
		}, []string{"source", "action", "topic"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_dispatched_orders_total",
			Help: "Orders handed to routing by action and disposition.",
		}, []string{"action", "disposition"}),
		Buckets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_eligibility_total",
			Help: "Eligibility verdicts by action and bucket.",
		}, []string{"action", "bucket"}),
		CooldownHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_cooldown_hits_total",
			Help: "Order requests rejected because of the per-order cooldown.",
		}, []string{"action"}),
		AuthSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_auth_transitions_total",
			Help: "Authentication state transitions.",
		}, []string{"from", "to"}),
		Classifier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_fallback_classifier_total",
			Help: "Fallback classifier calls by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Intents, m.Dispatches, m.Buckets, m.CooldownHits, m.AuthSteps, m.Classifier)
	return m
}

func orNone[T ~string](v T) string {
	if v == "" {
		return "none"
	}
	return string(v)
}

// Intent is an Assistant.OnIntent hook.
func (m *BotMetrics) Intent(src domain.Source, a domain.Action, t domain.Topic) {
	m.Intents.WithLabelValues(orNone(src), orNone(a), orNone(t)).Inc()
}

// Disposition is a routing.Router.OnDisposition hook.
func (m *BotMetrics) Disposition(a domain.Action, d routing.Disposition, n int) {
	m.Dispatches.WithLabelValues(orNone(a), string(d)).Add(float64(n))
}

// Bucket is an OrderService.OnBucket hook.
func (m *BotMetrics) Bucket(a domain.Action, b services.Bucket, n int) {
	m.Buckets.WithLabelValues(orNone(a), string(b)).Add(float64(n))
}

// CooldownHit is an OrderService.OnCooldownHit hook.
func (m *BotMetrics) CooldownHit(a domain.Action) {
	m.CooldownHits.WithLabelValues(orNone(a)).Inc()
}

// Transition is an AuthService.OnTransition hook.
func (m *BotMetrics) Transition(from, to domain.AuthState) {
	m.AuthSteps.WithLabelValues(string(from), string(to)).Inc()
}

// ClassifierOutcome is a classifier.WithObserver hook.
func (m *BotMetrics) ClassifierOutcome(outcome string) {
	m.Classifier.WithLabelValues(outcome).Inc()
}

// Attach installs every hook on the given components. Nil components are
// skipped.
func (m *BotMetrics) Attach(a *services.Assistant, auth *services.AuthService, orders *services.OrderService, r *routing.Router) {
	if a != nil {
		a.OnIntent(m.Intent)
	}
	if auth != nil {
		auth.OnTransition(m.Transition)
	}
	if orders != nil {
		orders.OnCooldownHit(m.CooldownHit)
		orders.OnBucket(m.Bucket)
	}
	if r != nil {
		r.OnDisposition(m.Disposition)
	}
}
