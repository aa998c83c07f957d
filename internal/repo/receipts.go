// Package repo – inbound receipts
//
// Receipts give the HTTP bridge safe-retry semantics: a transport that posts
// the same message twice with the same Idempotency-Key gets the stored
// replies back instead of running the pipeline (and dispatching) again.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// GetReceipt returns a non-expired receipt or ErrNotFound.
func GetReceipt(ctx context.Context, db *gorm.DB, conversationID, key string, now time.Time) (*domain.InboundReceipt, error) {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.InboundReceipt
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND key = ? AND expires_at > ?", conversationID, key, now.UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateReceipt stores the replies for (conversationID, key) and returns
// ErrDuplicate on a unique violation.
func CreateReceipt(ctx context.Context, db *gorm.DB, conversationID, key string, replies []string, status int, ttl time.Duration) (*domain.InboundReceipt, error) {
	if replies == nil {
		replies = []string{}
	}
	body, err := json.Marshal(replies)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &domain.InboundReceipt{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Key:            key,
		Replies:        string(body),
		Status:         status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ReceiptReplies decodes the stored replies.
func ReceiptReplies(rec *domain.InboundReceipt) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(rec.Replies), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PruneReceipts deletes receipts that expired before now.
func PruneReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.InboundReceipt{})
	return res.RowsAffected, res.Error
}
