package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// DefaultMaxTextRunes caps inbound message length at the edge.
const DefaultMaxTextRunes = 4000

// Assistant runs one inbound message through the bot pipeline.
type Assistant interface {
	HandleMessage(ctx context.Context, conversationID, text string) []string
}

// Outbox is the durable queue of bot-originated messages that the bridge
// drains and acknowledges.
type Outbox interface {
	CountPending(ctx context.Context, channelID string) (int64, error)
	ListPending(ctx context.Context, channelID string, offset, limit int) ([]domain.OutboundMessage, error)
	Ack(ctx context.Context, id string) error
}

// Receipts remembers the replies produced for (conversation, Idempotency-Key)
// so redelivered messages are answered without re-running the pipeline.
type Receipts interface {
	Get(ctx context.Context, conversationID, key string, now time.Time) ([]string, bool, error)
	Put(ctx context.Context, conversationID, key string, replies []string) error
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// Handlers binds the bridge endpoints to their dependencies. Outbox and
// Receipts may be nil: without an outbox the queue endpoints answer 404,
// without receipts Idempotency-Key is accepted but never replayed.
type Handlers struct {
	assistant Assistant
	outbox    Outbox
	receipts  Receipts

	// MaxTextRunes bounds inbound text; <= 0 uses DefaultMaxTextRunes.
	MaxTextRunes int
}

// New constructs Handlers.
func New(a Assistant, ob Outbox, rc Receipts) *Handlers {
	return &Handlers{assistant: a, outbox: ob, receipts: rc, MaxTextRunes: DefaultMaxTextRunes}
}

func (h *Handlers) maxTextRunes() int {
	if h.MaxTextRunes > 0 {
		return h.MaxTextRunes
	}
	return DefaultMaxTextRunes
}
