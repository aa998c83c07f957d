package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/go-order-bot/internal/classifier"
	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/panel"
	"github.com/tbourn/go-order-bot/internal/routing"
)

var errBoom = errors.New("boom")

type fakeSessions struct {
	mu   sync.Mutex
	m    map[string]domain.Session
	err  error
	lose bool // CompareAndSwap reports a lost race
}

func newFakeSessions() *fakeSessions { return &fakeSessions{m: map[string]domain.Session{}} }

func (f *fakeSessions) Get(_ context.Context, id string) (domain.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Session{}, false, f.err
	}
	s, ok := f.m[id]
	return s, ok, nil
}

func (f *fakeSessions) Put(_ context.Context, s domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[s.ConversationID] = s
	return nil
}

func (f *fakeSessions) CompareAndSwap(_ context.Context, expected int64, s domain.Session) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lose {
		return false, nil
	}
	if cur, ok := f.m[s.ConversationID]; ok && cur.Version != expected || !ok && expected != 0 {
		return false, nil
	}
	s.Version = expected + 1
	f.m[s.ConversationID] = s
	return true, nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, id)
	return nil
}

type fakeCooldowns struct {
	m      map[string]time.Time
	getErr error
	casErr error
	lose   bool
	sets   int
}

func newFakeCooldowns() *fakeCooldowns { return &fakeCooldowns{m: map[string]time.Time{}} }

func (f *fakeCooldowns) Get(_ context.Context, k domain.CooldownKey) (time.Time, bool, error) {
	if f.getErr != nil {
		return time.Time{}, false, f.getErr
	}
	at, ok := f.m[k.String()]
	return at, ok, nil
}

func (f *fakeCooldowns) Set(_ context.Context, k domain.CooldownKey, at time.Time) error {
	f.m[k.String()] = at
	return nil
}

func (f *fakeCooldowns) CompareAndSet(_ context.Context, k domain.CooldownKey, prev, at time.Time) (bool, error) {
	if f.casErr != nil {
		return false, f.casErr
	}
	if f.lose {
		return false, nil
	}
	cur, ok := f.m[k.String()]
	if prev.IsZero() && ok || !prev.IsZero() && !cur.Equal(prev) {
		return false, nil
	}
	f.m[k.String()] = at
	f.sets++
	return true, nil
}

type fakeAccounts struct {
	users      map[string]domain.Account
	findErr    error
	otp        panel.OTP
	otpErr     error
	balanceErr error
	issued     []string
}

func (f *fakeAccounts) FindUser(_ context.Context, username string) (domain.Account, error) {
	if f.findErr != nil {
		return domain.Account{}, f.findErr
	}
	for k, a := range f.users {
		if strings.EqualFold(k, username) {
			return a, nil
		}
	}
	return domain.Account{}, panel.ErrUserNotFound
}

func (f *fakeAccounts) IssueOTP(_ context.Context, username string) (panel.OTP, error) {
	f.issued = append(f.issued, username)
	if f.otpErr != nil {
		return panel.OTP{}, f.otpErr
	}
	return f.otp, nil
}

func (f *fakeAccounts) Balance(ctx context.Context, username string) (domain.Account, error) {
	if f.balanceErr != nil {
		return domain.Account{}, f.balanceErr
	}
	return f.FindUser(ctx, username)
}

type fakeOrders struct {
	m     map[string]domain.Order
	errs  map[string]error
	calls []string
}

func (f *fakeOrders) Order(_ context.Context, id string) (domain.Order, error) {
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return domain.Order{}, err
	}
	o, ok := f.m[id]
	if !ok {
		return domain.Order{}, panel.ErrOrderNotFound
	}
	return o, nil
}

type routeCall struct {
	action domain.Action
	ids    []string
}

// fakeRouter forwards everything unless disposition overrides it per order id.
type fakeRouter struct {
	calls       []routeCall
	disposition map[string]routing.Disposition
}

func (f *fakeRouter) Route(_ context.Context, a domain.Action, orders []domain.Order) routing.Outcome {
	call := routeCall{action: a}
	var out routing.Outcome
	for _, o := range orders {
		call.ids = append(call.ids, o.ID)
		d := routing.Forwarded
		if v, ok := f.disposition[o.ID]; ok {
			d = v
		}
		out = append(out, routing.Result{Provider: o.Provider, OrderIDs: []string{o.ID}, Disposition: d})
	}
	f.calls = append(f.calls, call)
	return out
}

type fakeFallback struct {
	res   classifier.Result
	ok    bool
	calls int
}

func (f *fakeFallback) Classify(context.Context, string, classifier.SessionContext) (classifier.Result, bool) {
	f.calls++
	return f.res, f.ok
}

type operators map[string]bool

func (o operators) IsOperatorChannel(id string) bool { return o[id] }

var testReplies = Replies{
	SiteURL:        "https://panel.example",
	SupportContact: "Support: +1 555 0100",
	CooldownWindow: 3 * time.Hour,
	MaxOrderIDs:    50,
}

func authedSession(id, user string) domain.Session {
	return domain.Session{
		ConversationID: id,
		State:          domain.StateAuthenticated,
		Triggered:      true,
		UserID:         user,
		Verified:       true,
		Version:        3,
	}
}
