package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/routing"
	"github.com/tbourn/go-order-bot/internal/services"
)

func TestBotMetrics_Hooks(t *testing.T) {
	m := NewBotMetrics(prometheus.NewRegistry())

	m.Intent(domain.SourceDeterministic, domain.ActionCancel, domain.TopicNone)
	m.Intent(domain.SourceDeterministic, domain.ActionCancel, domain.TopicNone)
	m.Intent(domain.SourceFallback, domain.ActionNone, domain.TopicHelp)
	m.Disposition(domain.ActionRefill, routing.Forwarded, 3)
	m.Bucket(domain.ActionRefill, services.BucketExpired, 2)
	m.CooldownHit(domain.ActionSpeed)
	m.Transition(domain.StateAwaitingOTP, domain.StateAuthenticated)
	m.ClassifierOutcome("accepted")

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"intents cancel", testutil.ToFloat64(m.Intents.WithLabelValues("deterministic", "cancel", "none")), 2},
		{"intents help", testutil.ToFloat64(m.Intents.WithLabelValues("fallback", "none", "help")), 1},
		{"dispatches", testutil.ToFloat64(m.Dispatches.WithLabelValues("refill", "forwarded")), 3},
		{"buckets", testutil.ToFloat64(m.Buckets.WithLabelValues("refill", string(services.BucketExpired))), 2},
		{"cooldown", testutil.ToFloat64(m.CooldownHits.WithLabelValues("speed")), 1},
		{"auth", testutil.ToFloat64(m.AuthSteps.WithLabelValues("awaiting_otp", "authenticated")), 1},
		{"classifier", testutil.ToFloat64(m.Classifier.WithLabelValues("accepted")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestBotMetrics_AttachRouter(t *testing.T) {
	m := NewBotMetrics(prometheus.NewRegistry())
	dir := routing.NewDirectory([]routing.Provider{{Domain: "king.example", ID: "room-king"}}, "room-support")
	r := routing.NewRouter(dir, routing.SenderFunc(func(context.Context, string, string) error { return nil }))
	m.Attach(nil, nil, nil, r)

	r.Route(context.Background(), domain.ActionCancel, []domain.Order{
		{ID: "1", Provider: "king.example", ExternalID: "e1"},
		{ID: "2", Provider: "king.example", ExternalID: "e2"},
	})

	if got := testutil.ToFloat64(m.Dispatches.WithLabelValues("cancel", "forwarded")); got != 2 {
		t.Fatalf("forwarded = %v, want 2", got)
	}
}

func TestNewBotMetrics_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewBotMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	NewBotMetrics(reg)
}
