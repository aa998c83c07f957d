// Package classifier is the slow-path intent classifier. It asks a remote
// language model for a JSON verdict and accepts the answer only if it
// validates against a strict schema and clears a confidence threshold.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// ErrMalformedOutput is returned by Parse when the model's answer does not
// conform to the schema.
var ErrMalformedOutput = errors.New("classifier: malformed model output")

// Completer sends a prompt to a model and returns its raw text answer.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// SessionContext is what the model is told about the conversation.
type SessionContext struct {
	Authenticated bool
	State         domain.AuthState
}

// Result is a validated model verdict.
type Result struct {
	Topic      domain.Topic
	Action     domain.Action
	OrderIDs   []string
	Confidence float64
	Reply      string
}

// Intent converts an action verdict into the shared intent shape.
func (r Result) Intent() domain.Intent {
	return domain.Intent{
		Action:     r.Action,
		OrderIDs:   r.OrderIDs,
		Confidence: r.Confidence,
		Source:     domain.SourceFallback,
		Rule:       "model",
	}
}

// Outcome labels used for metrics.
const (
	OutcomeAccepted      = "accepted"
	OutcomeLowConfidence = "low_confidence"
	OutcomeMalformed     = "malformed"
	OutcomeError         = "error"
)

// Adapter wraps a Completer with validation and a timeout.
type Adapter struct {
	completer     Completer
	minConfidence float64
	timeout       time.Duration
	// observe, when set, receives one outcome label per call.
	observe func(outcome string)
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithMinConfidence sets the acceptance threshold (exclusive).
func WithMinConfidence(v float64) AdapterOption {
	return func(a *Adapter) { a.minConfidence = v }
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.timeout = d }
}

// WithObserver registers a callback for call outcomes.
func WithObserver(fn func(outcome string)) AdapterOption {
	return func(a *Adapter) { a.observe = fn }
}

// NewAdapter returns an Adapter with a 0.6 threshold and an 8s timeout.
func NewAdapter(c Completer, opts ...AdapterOption) (*Adapter, error) {
	if c == nil {
		return nil, errors.New("classifier: completer must not be nil")
	}
	a := &Adapter{completer: c, minConfidence: 0.6, timeout: 8 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Classify asks the model about text. Any error, timeout, non-conforming
// answer or low confidence yields ok=false; the caller treats that as "no
// intent".
func (a *Adapter) Classify(ctx context.Context, text string, sc SessionContext) (Result, bool) {
	tr := otel.Tracer("classifier")
	ctx, span := tr.Start(ctx, "Classify",
		trace.WithAttributes(attribute.Bool("session.authenticated", sc.Authenticated)))
	defer span.End()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	raw, err := a.completer.Complete(ctx, systemPrompt, userPrompt(text, sc))
	if err != nil {
		log.Warn().Err(err).Str("component", "classifier").Msg("model call failed")
		a.record(OutcomeError)
		span.SetAttributes(attribute.String("classifier.outcome", OutcomeError))
		return Result{}, false
	}

	res, err := Parse(raw)
	if err != nil {
		log.Warn().Err(err).Str("component", "classifier").Msg("model output rejected")
		a.record(OutcomeMalformed)
		span.SetAttributes(attribute.String("classifier.outcome", OutcomeMalformed))
		return Result{}, false
	}
	if res.Confidence <= a.minConfidence {
		a.record(OutcomeLowConfidence)
		span.SetAttributes(attribute.String("classifier.outcome", OutcomeLowConfidence))
		return Result{}, false
	}

	a.record(OutcomeAccepted)
	span.SetAttributes(
		attribute.String("classifier.outcome", OutcomeAccepted),
		attribute.String("classifier.topic", string(res.Topic)),
		attribute.String("classifier.action", string(res.Action)),
	)
	return res, true
}

func (a *Adapter) record(outcome string) {
	if a.observe != nil {
		a.observe(outcome)
	}
}

type verdict struct {
	Intent     string   `json:"intent"`
	Action     *string  `json:"action"`
	OrderIDs   []string `json:"order_ids"`
	Confidence float64  `json:"confidence"`
	Reply      *string  `json:"reply"`
}

// Parse validates raw model output against the verdict schema and converts
// it. Markdown code fences around the JSON are tolerated.
func Parse(raw string) (Result, error) {
	body := stripFences(raw)

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := verdictSchema.Validate(doc); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var v verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	res := Result{Confidence: v.Confidence, OrderIDs: v.OrderIDs}
	if v.Reply != nil {
		res.Reply = strings.TrimSpace(*v.Reply)
	}
	if v.Intent == intentOrderAction {
		if v.Action == nil {
			return Result{}, fmt.Errorf("%w: order_action without action", ErrMalformedOutput)
		}
		act, _ := domain.ParseAction(*v.Action)
		res.Action = act
		return res, nil
	}
	res.Topic = domain.Topic(v.Intent)
	res.OrderIDs = nil
	return res, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func userPrompt(text string, sc SessionContext) string {
	return fmt.Sprintf("session_state: %s\nauthenticated: %t\nmessage: %s", sc.State, sc.Authenticated, text)
}

const systemPrompt = `You classify customer messages sent to a social media panel support bot.
Messages may be in English, Urdu, Roman Urdu or Hinglish and are often misspelled.

Answer with one JSON object and nothing else:
{"intent": string, "action": string|null, "order_ids": [string], "confidence": number, "reply": string|null}

intent is one of:
  order_action       the user wants to cancel, speed up or refill orders; set action to cancel, speed or refill
  balance            the user asks for their account balance
  spent              the user asks how much they have spent
  balance_and_spent  both of the above
  logout             the user wants to log out or switch account
  help               the user asks what the bot can do
  site, services, terms, refund_policy  the user asks for that link
  general            anything else; put a short helpful answer in reply

order_ids holds every order number of four or more digits in the message, as strings.
action is null unless intent is order_action. confidence is between 0 and 1.
Never invent order ids. Never promise refunds, deliveries or timelines.`
