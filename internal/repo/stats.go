// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// by the admin endpoints and the operator CLI. Each function is context-aware
// and safe to call from services or handlers.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/cityheroes/wecom-passbot/internal/domain"
)

// AssignmentStats aggregates delivery counters across all assignment rows.
type AssignmentStats struct {
	Total       int64 `json:"total"`
	Delivered   int64 `json:"delivered"`
	Undelivered int64 `json:"undelivered"`
	WelcomeSent int64 `json:"welcome_sent"`
}

// CountAssignmentStats returns totals for the assignments table: all rows,
// rows with a successful private delivery, the remainder, and rows where the
// one-time welcome broadcast fired.
func CountAssignmentStats(ctx context.Context, db *gorm.DB) (AssignmentStats, error) {
	var s AssignmentStats
	if err := db.WithContext(ctx).Model(&domain.Assignment{}).Count(&s.Total).Error; err != nil {
		return s, err
	}
	if err := db.WithContext(ctx).Model(&domain.Assignment{}).
		Where("delivered = ?", true).Count(&s.Delivered).Error; err != nil {
		return s, err
	}
	if err := db.WithContext(ctx).Model(&domain.Assignment{}).
		Where("welcome_sent = ?", true).Count(&s.WelcomeSent).Error; err != nil {
		return s, err
	}
	s.Undelivered = s.Total - s.Delivered
	return s, nil
}

// RecentAssignments returns the newest limit assignment rows, most recent
// first. Used by the admin stats endpoint for a quick operational glance.
func RecentAssignments(ctx context.Context, db *gorm.DB, limit int) ([]domain.Assignment, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []domain.Assignment
	err := db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
