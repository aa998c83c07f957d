package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// SessionStore persists sessions in the sessions table. Writes through
// CompareAndSwap are guarded by the version column.
type SessionStore struct {
	DB *gorm.DB
}

// NewSessionStore returns a SQLite-backed session store.
func NewSessionStore(db *gorm.DB) *SessionStore { return &SessionStore{DB: db} }

// Get loads a session; ok is false when none is stored.
func (s *SessionStore) Get(ctx context.Context, conversationID string) (domain.Session, bool, error) {
	var rec domain.Session
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	return rec, true, nil
}

// Put upserts a session unconditionally.
func (s *SessionStore) Put(ctx context.Context, sess domain.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&sess).Error
}

// CompareAndSwap writes sess only if the stored version is expectedVersion.
// Version 0 means the row must not exist yet.
func (s *SessionStore) CompareAndSwap(ctx context.Context, expectedVersion int64, sess domain.Session) (bool, error) {
	sess.Version = expectedVersion + 1
	sess.UpdatedAt = time.Now().UTC()

	if expectedVersion == 0 {
		err := s.DB.WithContext(ctx).Create(&sess).Error
		if isUniqueViolation(err) {
			return false, nil
		}
		return err == nil, err
	}

	res := s.DB.WithContext(ctx).
		Model(&domain.Session{}).
		Where("conversation_id = ? AND version = ?", sess.ConversationID, expectedVersion).
		Updates(map[string]any{
			"state":        sess.State,
			"triggered":    sess.Triggered,
			"user_id":      sess.UserID,
			"temp_user_id": sess.TempUserID,
			"otp_code":     sess.OTPCode,
			"ticket_id":    sess.TicketID,
			"verified":     sess.Verified,
			"version":      sess.Version,
			"updated_at":   sess.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, conversationID string) error {
	return s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&domain.Session{}).Error
}
