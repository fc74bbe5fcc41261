// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// InventoryItem pool used by the pre-generated coupon delivery path.
//
// The claim path is the one place where true concurrent correctness matters:
// two webhook events handled in parallel must never receive the same coupon.
// Mutual exclusion is optimistic, not lock-based. ClaimInventoryItem first
// selects the oldest unassigned row, then issues a single conditional UPDATE
// that succeeds only while the row is still unassigned. A zero affected-row
// count means a concurrent claimant won the race; the loser simply reports
// "no item" and the caller may retry at a higher level.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cityheroes/wecom-passbot/internal/domain"
)

// InventoryStats aggregates pool counters for the admin surface.
type InventoryStats struct {
	Unassigned int64 `json:"unassigned"`
	Assigned   int64 `json:"assigned"`
	Delivered  int64 `json:"delivered"`
}

// InsertInventoryItems bulk-inserts pre-generated items into the pool and
// returns the number of rows written.
func InsertInventoryItems(ctx context.Context, db *gorm.DB, items []domain.InventoryItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Create(&items)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// ClaimInventoryItem atomically assigns the lowest-id unclaimed item (FIFO
// fairness) to subjectID. It returns (nil, nil) both when the pool is
// exhausted and when the conditional update lost a race with a concurrent
// claimant; neither case is an error.
func ClaimInventoryItem(ctx context.Context, db *gorm.DB, subjectID, chatID string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := db.WithContext(ctx).
		Where("assigned_to IS NULL").
		Order("id asc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.InventoryItem{}).
		Where("id = ? AND assigned_to IS NULL", item.ID).
		Updates(map[string]any{
			"assigned_to":      subjectID,
			"assigned_chat_id": chatID,
			"assigned_at":      now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race between SELECT and UPDATE.
		return nil, nil
	}

	item.AssignedTo = &subjectID
	item.AssignedChatID = &chatID
	item.AssignedAt = &now
	return &item, nil
}

// MarkInventoryDelivered flags a claimed item as successfully sent.
func MarkInventoryDelivered(ctx context.Context, db *gorm.DB, id uint) error {
	return db.WithContext(ctx).
		Model(&domain.InventoryItem{}).
		Where("id = ?", id).
		Update("delivered", true).Error
}

// CountInventory returns pool counters: unassigned, assigned, and delivered.
func CountInventory(ctx context.Context, db *gorm.DB) (InventoryStats, error) {
	var s InventoryStats
	if err := db.WithContext(ctx).Model(&domain.InventoryItem{}).
		Where("assigned_to IS NULL").Count(&s.Unassigned).Error; err != nil {
		return s, err
	}
	if err := db.WithContext(ctx).Model(&domain.InventoryItem{}).
		Where("assigned_to IS NOT NULL").Count(&s.Assigned).Error; err != nil {
		return s, err
	}
	if err := db.WithContext(ctx).Model(&domain.InventoryItem{}).
		Where("delivered = ?", true).Count(&s.Delivered).Error; err != nil {
		return s, err
	}
	return s, nil
}
