package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// CooldownStore keeps last-dispatch times in the cooldowns table, one row per
// (owner, order_id, action). Times are stored in UTC so equality checks in
// CompareAndSet see the same value Get returned.
type CooldownStore struct {
	DB *gorm.DB
}

// NewCooldownStore returns a SQLite-backed cooldown store.
func NewCooldownStore(db *gorm.DB) *CooldownStore { return &CooldownStore{DB: db} }

func (s *CooldownStore) scope(ctx context.Context, k domain.CooldownKey) *gorm.DB {
	return s.DB.WithContext(ctx).
		Model(&domain.CooldownRecord{}).
		Where("owner = ? AND order_id = ? AND action = ?", k.Owner, k.OrderID, k.Action)
}

// Get returns the last dispatch time for k.
func (s *CooldownStore) Get(ctx context.Context, k domain.CooldownKey) (time.Time, bool, error) {
	var rec domain.CooldownRecord
	err := s.scope(ctx, k).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.DispatchedAt.UTC(), true, nil
}

// Set records at for k unconditionally.
func (s *CooldownStore) Set(ctx context.Context, k domain.CooldownKey, at time.Time) error {
	rec := newCooldownRecord(k, at)
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "order_id"}, {Name: "action"}},
			DoUpdates: clause.AssignmentColumns([]string{"dispatched_at"}),
		}).
		Create(&rec).Error
}

// CompareAndSet writes at only if the stored time equals prev. A zero prev
// requires the key to be absent; the unique index settles concurrent inserts.
func (s *CooldownStore) CompareAndSet(ctx context.Context, k domain.CooldownKey, prev, at time.Time) (bool, error) {
	if prev.IsZero() {
		rec := newCooldownRecord(k, at)
		err := s.DB.WithContext(ctx).Create(&rec).Error
		if isUniqueViolation(err) {
			return false, nil
		}
		return err == nil, err
	}
	res := s.scope(ctx, k).
		Where("dispatched_at = ?", prev.UTC()).
		Update("dispatched_at", at.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Prune deletes records dispatched before cutoff and returns how many went.
func (s *CooldownStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("dispatched_at < ?", cutoff.UTC()).
		Delete(&domain.CooldownRecord{})
	return res.RowsAffected, res.Error
}

func newCooldownRecord(k domain.CooldownKey, at time.Time) domain.CooldownRecord {
	return domain.CooldownRecord{
		ID:           uuid.NewString(),
		Owner:        k.Owner,
		OrderID:      k.OrderID,
		Action:       k.Action,
		DispatchedAt: at.UTC(),
	}
}
