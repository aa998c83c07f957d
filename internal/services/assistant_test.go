package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-order-bot/internal/classifier"
	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/intent"
	"github.com/tbourn/go-order-bot/internal/routing"
)

type sentMsg struct{ channel, text string }

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (r *recordingSender) Send(_ context.Context, ch, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMsg{ch, text})
	return nil
}

type assistantFixture struct {
	a        *Assistant
	sessions *fakeSessions
	orders   *fakeOrders
	accounts *fakeAccounts
	fallback *fakeFallback
	sender   *recordingSender
}

func newAssistantFixture() assistantFixture {
	f := assistantFixture{
		sessions: newFakeSessions(),
		orders: &fakeOrders{m: map[string]domain.Order{
			"123456": {ID: "123456", Owner: "ali_99", Status: "pending", Provider: "smmking.com", ExternalID: "ext-9",
				ServiceName: "IG Followers", Link: "https://instagram.com/x", Charge: domain.Money{Formatted: "$1.20"}, Quantity: "1000"},
			"111111": {ID: "111111", Owner: "ali_99", Status: "completed", ServiceName: "Refill: Lifetime", Provider: "smmking.com", ExternalID: "ext-1"},
			"222222": {ID: "222222", Owner: "ali_99", Status: "completed", ServiceName: "Refill: No", Provider: "smmking.com", ExternalID: "ext-2"},
			"333333": {ID: "333333", Owner: "mallory", Status: "pending"},
		}},
		accounts: &fakeAccounts{users: map[string]domain.Account{
			"ali_99": {Username: "ali_99", Balance: domain.Money{Formatted: "$12.50"}, Spent: domain.Money{Formatted: "$80.00"}},
		}},
		fallback: &fakeFallback{},
		sender:   &recordingSender{},
	}

	dir := routing.NewDirectory([]routing.Provider{{Domain: "smmking.com", ID: "room-king"}}, "room-support")
	router := routing.NewRouter(dir, f.sender)
	auth := NewAuthService(f.accounts, testReplies, "bot")
	orders := NewOrderService(f.orders, newFakeCooldowns(), router, testReplies)
	orders.Now = func() time.Time { return fixedNow }
	f.a = NewAssistant(f.sessions, auth, orders, f.accounts, intent.Default(), f.fallback, dir, testReplies)
	return f
}

func (f assistantFixture) login(id string) {
	s := authedSession(id, "ali_99")
	f.sessions.m[id] = s
}

func TestHandleMessage_ScenarioA_CancelForwardsBatch(t *testing.T) {
	f := newAssistantFixture()
	f.login("c1")

	out := f.a.HandleMessage(context.Background(), "c1", "123456 cancel")
	if len(out) != 1 || out[0] != testReplies.Processed(domain.ActionCancel, "123456") {
		t.Fatalf("replies=%q", out)
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0] != (sentMsg{"room-king", "ext-9 cancel"}) {
		t.Fatalf("sent=%v", f.sender.sent)
	}
	if f.fallback.calls != 0 {
		t.Fatalf("deterministic match must not reach the fallback")
	}
}

func TestHandleMessage_ScenarioB_RefillMixed(t *testing.T) {
	f := newAssistantFixture()
	f.login("c1")

	out := f.a.HandleMessage(context.Background(), "c1", "refill 111111,222222")
	if len(out) != 1 {
		t.Fatalf("replies=%q", out)
	}
	if !strings.Contains(out[0], "can be refilled: 111111") || !strings.Contains(out[0], "Refill not available ❌: 222222") {
		t.Fatalf("reply=%q", out[0])
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].text != "ext-1 refill" {
		t.Fatalf("sent=%v", f.sender.sent)
	}
}

func TestHandleMessage_ScenarioC_Unauthenticated(t *testing.T) {
	f := newAssistantFixture()
	ctx := context.Background()

	s := domain.NewSession("c9")
	s.Triggered = true
	s.State = domain.StateAwaitingUserID
	s.Version = 1
	f.sessions.m["c9"] = s

	out := f.a.HandleMessage(ctx, "c9", "cancel 123456")
	if len(out) != 1 || out[0] != testReplies.AuthRequired() {
		t.Fatalf("replies=%q", out)
	}
	if len(f.orders.calls) != 0 {
		t.Fatalf("no order lookup before authentication")
	}
	if got := f.sessions.m["c9"]; got != s {
		t.Fatalf("session changed: %+v", got)
	}
}

func TestHandleMessage_UntriggeredActionIsSilent(t *testing.T) {
	f := newAssistantFixture()
	ctx := context.Background()

	for _, text := range []string{"cancel 123456", "Hello, stop 98765 now"} {
		if out := f.a.HandleMessage(ctx, "spam", text); len(out) != 0 {
			t.Fatalf("%q: replies=%q", text, out)
		}
	}
	if len(f.orders.calls) != 0 {
		t.Fatalf("order lookups=%v", f.orders.calls)
	}
	if s, ok := f.sessions.m["spam"]; ok && (s.Triggered || s.State != domain.StateInit) {
		t.Fatalf("session changed: %+v", s)
	}
}

func TestHandleMessage_HandshakeThroughAssistant(t *testing.T) {
	f := newAssistantFixture()
	f.accounts.otp.Code = "654321"
	ctx := context.Background()

	if out := f.a.HandleMessage(ctx, "c1", "hi"); len(out) != 0 {
		t.Fatalf("untriggered should be silent: %q", out)
	}
	f.a.HandleMessage(ctx, "c1", "bot")
	f.a.HandleMessage(ctx, "c1", "ali_99")
	f.a.HandleMessage(ctx, "c1", "yes")
	out := f.a.HandleMessage(ctx, "c1", "654321")

	s := f.sessions.m["c1"]
	if !s.Authenticated() || s.Version != 4 {
		t.Fatalf("session=%+v", s)
	}
	if !strings.Contains(out[0], "OTP verified") {
		t.Fatalf("reply=%q", out[0])
	}
}

func TestHandleMessage_Topics(t *testing.T) {
	f := newAssistantFixture()
	f.login("c1")
	ctx := context.Background()

	cases := []struct {
		in   string
		want string
	}{
		{"thank you so much", testReplies.Thanks()},
		{"help", testReplies.Help()},
		{"services", testReplies.Link(domain.TopicServices)},
		{"my balance?", "💰 Your current balance: $12.50"},
		{"kitna kharch kiya", "💸 Total spent: $80.00"},
		{"details 123456", testReplies.OrderDetails(f.orders.m["123456"])},
		{"333333 status", testReplies.OrderForbidden("333333")},
		{"details 909090", testReplies.OrderNotFound("909090")},
		{"cancel", testReplies.NeedOrderID()},
		{"#123456", testReplies.BareOrderID("123456")},
		{"!ping", "pong"},
	}
	for _, tc := range cases {
		out := f.a.HandleMessage(ctx, "c1", tc.in)
		if len(out) != 1 || out[0] != tc.want {
			t.Fatalf("%q -> %q; want %q", tc.in, out, tc.want)
		}
	}
	if f.fallback.calls != 0 {
		t.Fatalf("fallback called %d times", f.fallback.calls)
	}
}

func TestHandleMessage_Logout(t *testing.T) {
	f := newAssistantFixture()
	f.login("c1")

	out := f.a.HandleMessage(context.Background(), "c1", "logout")
	if out[0] != testReplies.LoggedOut() {
		t.Fatalf("reply=%q", out)
	}
	s := f.sessions.m["c1"]
	if s.State != domain.StateInit || s.UserID != "" || s.Verified {
		t.Fatalf("session not reset: %+v", s)
	}
}

func TestHandleMessage_Fallback(t *testing.T) {
	f := newAssistantFixture()
	f.login("c1")
	ctx := context.Background()

	f.fallback.ok = true
	f.fallback.res = classifier.Result{Topic: domain.TopicGeneral, Reply: "We are open 24/7."}
	if out := f.a.HandleMessage(ctx, "c1", "are you open on sunday"); out[0] != "We are open 24/7." {
		t.Fatalf("general reply=%q", out)
	}

	// No vocabulary hit, so the model's action and ids are used.
	f.fallback.res = classifier.Result{Action: domain.ActionSpeed, Confidence: 0.9}
	out := f.a.HandleMessage(ctx, "c1", "order 123456 is taking forever")
	if len(f.sender.sent) != 1 || f.sender.sent[0].text != "ext-9 speed" {
		t.Fatalf("sent=%v out=%q", f.sender.sent, out)
	}
	if f.fallback.calls != 2 {
		t.Fatalf("fallback calls=%d", f.fallback.calls)
	}

	f.fallback.ok = false
	if out := f.a.HandleMessage(ctx, "c1", "qwerty"); out[0] != testReplies.Suggestion() {
		t.Fatalf("suggestion=%q", out)
	}
}

func TestHandleMessage_FallbackIDsMustAppearInText(t *testing.T) {
	f := newAssistantFixture()
	f.login("c1")
	ctx := context.Background()

	f.fallback.ok = true
	f.fallback.res = classifier.Result{Action: domain.ActionSpeed, OrderIDs: []string{"111111", "123456"}, Confidence: 0.9}
	f.a.HandleMessage(ctx, "c1", "order 123456 is taking forever")
	if len(f.orders.calls) != 1 || f.orders.calls[0] != "123456" {
		t.Fatalf("looked up %v, want only 123456", f.orders.calls)
	}

	f.fallback.res = classifier.Result{Action: domain.ActionSpeed, OrderIDs: []string{"222222"}, Confidence: 0.9}
	out := f.a.HandleMessage(ctx, "c1", "my order is taking forever")
	if len(out) != 1 || out[0] != testReplies.NeedOrderID() {
		t.Fatalf("invented id accepted: %q", out)
	}
	if len(f.orders.calls) != 1 {
		t.Fatalf("order lookups=%v", f.orders.calls)
	}
}

func TestConfirmedIDs(t *testing.T) {
	if got := confirmedIDs(nil, []string{"1234"}); len(got) != 1 || got[0] != "1234" {
		t.Fatalf("no proposal: %v", got)
	}
	if got := confirmedIDs([]string{"9999", "1234"}, []string{"1234", "5678"}); len(got) != 1 || got[0] != "1234" {
		t.Fatalf("intersection: %v", got)
	}
	if got := confirmedIDs([]string{"9999"}, nil); len(got) != 0 {
		t.Fatalf("nothing in text: %v", got)
	}
}

func TestHandleMessage_IgnoresOperatorsAndEmpty(t *testing.T) {
	f := newAssistantFixture()
	ctx := context.Background()
	if out := f.a.HandleMessage(ctx, "room-king", "bot"); out != nil {
		t.Fatalf("operator channel answered: %q", out)
	}
	if out := f.a.HandleMessage(ctx, "room-support", "bot"); out != nil {
		t.Fatalf("support channel answered: %q", out)
	}
	if out := f.a.HandleMessage(ctx, "  ", "bot"); out != nil {
		t.Fatalf("empty conversation answered")
	}
}

func TestHandleMessage_StoreFailures(t *testing.T) {
	f := newAssistantFixture()
	ctx := context.Background()

	f.sessions.err = errBoom
	if out := f.a.HandleMessage(ctx, "c1", "bot"); out[0] != testReplies.Unavailable() {
		t.Fatalf("load failure=%q", out)
	}

	f.sessions.err = nil
	f.sessions.lose = true
	if out := f.a.HandleMessage(ctx, "c1", "bot"); out[0] != testReplies.Generic() {
		t.Fatalf("lost swap=%q", out)
	}
}

type panicClassifier struct{}

func (panicClassifier) Classify(context.Context, string, classifier.SessionContext) (classifier.Result, bool) {
	panic("model exploded")
}

func TestHandleMessage_RecoversPanics(t *testing.T) {
	f := newAssistantFixture()
	f.login("c1")
	f.a.Fallback = panicClassifier{}

	out := f.a.HandleMessage(context.Background(), "c1", "something odd")
	if len(out) != 1 || out[0] != testReplies.Generic() {
		t.Fatalf("replies=%q", out)
	}
	if !f.sessions.m["c1"].Authenticated() {
		t.Fatalf("session must survive a panic")
	}
	if len(f.a.locks) != 0 {
		t.Fatalf("conversation lock leaked")
	}
}

func TestHandleMessage_ConcurrentConversationIsSerialized(t *testing.T) {
	f := newAssistantFixture()
	f.login("c1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.a.HandleMessage(context.Background(), "c1", "123456 cancel")
		}()
	}
	wg.Wait()

	if len(f.sender.sent) != 1 {
		t.Fatalf("one dispatch expected under concurrency, got %d", len(f.sender.sent))
	}
}
