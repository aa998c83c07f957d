package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// Outbox queues channel sends for a transport bridge that polls the HTTP API.
// It satisfies routing.Sender: Send only enqueues, so a provider or support
// message is "delivered" once the row is committed.
type Outbox struct {
	DB *gorm.DB
	// Support is the escalation channel; rows addressed to it are tagged
	// domain.OutboundSupport.
	Support string
}

// NewOutbox returns an outbox bound to db.
func NewOutbox(db *gorm.DB, supportChannel string) *Outbox {
	return &Outbox{DB: db, Support: supportChannel}
}

// Send enqueues text for channelID.
func (o *Outbox) Send(ctx context.Context, channelID, text string) error {
	kind := domain.OutboundProvider
	if channelID == o.Support {
		kind = domain.OutboundSupport
	}
	msg := &domain.OutboundMessage{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	return o.DB.WithContext(ctx).Create(msg).Error
}

func (o *Outbox) pending(ctx context.Context, channelID string) *gorm.DB {
	q := o.DB.WithContext(ctx).Model(&domain.OutboundMessage{}).Where("delivered_at IS NULL")
	if channelID != "" {
		q = q.Where("channel_id = ?", channelID)
	}
	return q
}

// CountPending returns the number of undelivered messages, optionally for
// one channel.
func (o *Outbox) CountPending(ctx context.Context, channelID string) (int64, error) {
	var n int64
	err := o.pending(ctx, channelID).Count(&n).Error
	return n, err
}

// ListPending returns undelivered messages oldest first.
func (o *Outbox) ListPending(ctx context.Context, channelID string, offset, limit int) ([]domain.OutboundMessage, error) {
	var out []domain.OutboundMessage
	err := o.pending(ctx, channelID).
		Order("created_at ASC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// Ack marks a message delivered. Acking twice is a no-op; an unknown id
// returns ErrNotFound.
func (o *Outbox) Ack(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := o.DB.WithContext(ctx).
		Model(&domain.OutboundMessage{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var n int64
	if err := o.DB.WithContext(ctx).Model(&domain.OutboundMessage{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneDelivered removes delivered messages older than cutoff.
func (o *Outbox) PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	res := o.DB.WithContext(ctx).
		Where("delivered_at IS NOT NULL AND delivered_at < ?", cutoff.UTC()).
		Delete(&domain.OutboundMessage{})
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
