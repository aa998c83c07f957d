// Package panel is the HTTP client for the SMM panel REST backend. It looks
// up accounts and balances, fetches orders and opens the support ticket that
// carries a one-time login code.
//
// The client API (users, orders) and the admin API (tickets) live under
// different base URLs and share one X-Api-Key.
package panel

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/sysutil"
)

// OTP is an issued login code and the ticket that delivered it.
type OTP struct {
	Code     string
	TicketID string
}

// Client talks to the panel backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	adminURL   string
	apiKey     string
	httpClient *http.Client
	loc        *time.Location
	genCode    func() (string, error)
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLocation sets the zone the backend writes "created" timestamps in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithCodeGenerator replaces the crypto/rand code generator; tests use it.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(c *Client) { c.genCode = fn }
}

// New builds a Client. baseURL is the client API root, adminURL the admin
// API root.
func New(baseURL, adminURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/",
		adminURL:   strings.TrimRight(strings.TrimSpace(adminURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		loc:        time.UTC,
		genCode:    sixDigitCode,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

type userJSON struct {
	Username string    `json:"username"`
	Balance  moneyJSON `json:"balance"`
	Spent    moneyJSON `json:"spent"`
}

type usersResponse struct {
	Data *struct {
		List []userJSON `json:"list"`
	} `json:"data"`
}

// FindUser looks username up case-insensitively. The returned account
// carries the backend's spelling of the name.
func (c *Client) FindUser(ctx context.Context, username string) (domain.Account, error) {
	ctx, span := otel.Tracer("panel").Start(ctx, "FindUser")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Account{}, ErrUserNotFound
	}

	u := c.baseURL + "users?username=" + url.QueryEscape(username)
	var out usersResponse
	if err := c.getJSON(ctx, u, &out); err != nil {
		recordErr(span, err)
		return domain.Account{}, err
	}
	if out.Data == nil || out.Data.List == nil {
		recordErr(span, ErrUnexpectedResponse)
		return domain.Account{}, ErrUnexpectedResponse
	}
	for _, usr := range out.Data.List {
		if usr.Username != "" && strings.EqualFold(usr.Username, username) {
			return domain.Account{
				Username: usr.Username,
				Balance:  domain.Money(usr.Balance),
				Spent:    domain.Money(usr.Spent),
			}, nil
		}
	}
	return domain.Account{}, ErrUserNotFound
}

// Balance returns the account's balance and total spent.
func (c *Client) Balance(ctx context.Context, username string) (domain.Account, error) {
	return c.FindUser(ctx, username)
}

type orderJSON struct {
	ID          flexString `json:"id"`
	User        string     `json:"user"`
	Status      string     `json:"status"`
	Provider    flexString `json:"provider"`
	ExternalID  flexString `json:"external_id"`
	ServiceName string     `json:"service_name"`
	Created     string     `json:"created"`
	Link        string     `json:"link"`
	Charge      moneyJSON  `json:"charge"`
	Quantity    flexString `json:"quantity"`
}

type orderResponse struct {
	Data *orderJSON `json:"data"`
}

// Order fetches one order. Unknown ids yield ErrOrderNotFound.
func (c *Client) Order(ctx context.Context, id string) (domain.Order, error) {
	ctx, span := otel.Tracer("panel").Start(ctx, "Order",
		trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	var out orderResponse
	err := c.getJSON(ctx, c.baseURL+"orders/"+url.PathEscape(id), &out)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return domain.Order{}, ErrOrderNotFound
	}
	if err != nil {
		recordErr(span, err)
		return domain.Order{}, err
	}
	if out.Data == nil {
		return domain.Order{}, ErrOrderNotFound
	}
	d := out.Data
	return domain.Order{
		ID:          sysutil.FirstNonEmpty(string(d.ID), id),
		Owner:       d.User,
		Status:      d.Status,
		Provider:    strings.TrimSpace(string(d.Provider)),
		ExternalID:  strings.TrimSpace(string(d.ExternalID)),
		ServiceName: d.ServiceName,
		Created:     parseCreated(d.Created, c.loc),
		Link:        d.Link,
		Charge:      domain.Money(d.Charge),
		Quantity:    string(d.Quantity),
	}, nil
}

type ticketRequest struct {
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

type ticketResponse struct {
	TicketID flexString `json:"ticket_id"`
	ID       flexString `json:"id"`
	Data     *struct {
		TicketID flexString `json:"ticket_id"`
		ID       flexString `json:"id"`
	} `json:"data"`
}

// IssueOTP generates a six-digit code and opens a support ticket for
// username carrying it. The ticket id may be empty if the backend does not
// return one.
func (c *Client) IssueOTP(ctx context.Context, username string) (OTP, error) {
	ctx, span := otel.Tracer("panel").Start(ctx, "IssueOTP")
	defer span.End()

	code, err := c.genCode()
	if err != nil {
		recordErr(span, err)
		return OTP{}, fmt.Errorf("panel: generate code: %w", err)
	}
	body, err := json.Marshal(ticketRequest{
		Subject:  "OTP Verification",
		Message:  "Your OTP verification code is: " + code,
		Username: username,
	})
	if err != nil {
		return OTP{}, fmt.Errorf("panel: marshal ticket: %w", err)
	}

	u := c.adminURL + "/tickets/add"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return OTP{}, fmt.Errorf("panel: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out ticketResponse
	if err := c.do(req, u, &out); err != nil {
		recordErr(span, err)
		return OTP{}, err
	}
	var dataTicket, dataID string
	if out.Data != nil {
		dataTicket, dataID = string(out.Data.TicketID), string(out.Data.ID)
	}
	return OTP{
		Code:     code,
		TicketID: sysutil.FirstNonEmpty(dataTicket, string(out.TicketID), dataID, string(out.ID)),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("panel: create request: %w", err)
	}
	return c.do(req, u, dst)
}

func (c *Client) do(req *http.Request, u string, dst any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("panel: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		var e struct {
			ErrorMessage string `json:"error_message"`
			Message      string `json:"message"`
		}
		_ = json.Unmarshal(buf, &e)
		return &StatusError{
			StatusCode: res.StatusCode,
			URL:        redactQuery(u),
			Message:    sysutil.FirstNonEmpty(e.ErrorMessage, e.Message),
		}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

// redactQuery drops the query string so usernames never reach error text.
func redactQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

var createdLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseCreated reads the backend's timestamp in loc. Unparseable input gives
// the zero time, which eligibility treats as "unknown".
func parseCreated(s string, loc *time.Location) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range createdLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}
