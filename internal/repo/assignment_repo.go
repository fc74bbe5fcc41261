// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Assignment
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an assignment is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience). Flag readers such
//     as IsWelcomeSent treat a missing row as "not sent" instead.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Concurrency:
//   - UpsertAssignment relies on the composite unique index
//     ux_assignments_subject_scenario and a native ON CONFLICT upsert, so
//     concurrent upserts for the same (subject_id, scenario) pair can never
//     produce duplicate rows. The conflict update deliberately excludes the
//     delivered/welcome_sent flags: re-provisioning refreshes pass metadata
//     without rewinding delivery state.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cityheroes/wecom-passbot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertAssignment inserts the assignment row for (SubjectID, Scenario) or,
// when the pair already exists, updates pass metadata in place. Delivered,
// WelcomeSent and WelcomeSentAt are never touched on the update path.
//
// Duplicate calls are not an error: the row is a write-through record of the
// latest provisioning outcome, including failed attempts (empty Link).
func UpsertAssignment(ctx context.Context, db *gorm.DB, a *domain.Assignment) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subject_id"}, {Name: "scenario"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"chat_id",
				"link",
				"pass_id",
				"model_id",
				"barcode_message",
				"expiration_date",
				"created_time",
				"raw_response",
				"updated_at",
			}),
		}).
		Create(a).Error
}

// GetAssignment fetches the assignment for (subjectID, scenario), or
// ErrNotFound if the pair has never been provisioned.
func GetAssignment(ctx context.Context, db *gorm.DB, subjectID, scenario string) (*domain.Assignment, error) {
	var a domain.Assignment
	err := db.WithContext(ctx).
		Where("subject_id = ? AND scenario = ?", subjectID, scenario).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MarkAssignmentDelivered flags the pair as privately delivered. The update
// is idempotent; repeated calls are no-ops in effect. Updating a pair that
// was never provisioned affects zero rows and is not an error.
func MarkAssignmentDelivered(ctx context.Context, db *gorm.DB, subjectID, scenario string) error {
	return db.WithContext(ctx).
		Model(&domain.Assignment{}).
		Where("subject_id = ? AND scenario = ?", subjectID, scenario).
		Update("delivered", true).Error
}

// IsWelcomeSent reports whether the group welcome fallback has already been
// broadcast for the pair. A missing row counts as "not sent".
func IsWelcomeSent(ctx context.Context, db *gorm.DB, subjectID, scenario string) (bool, error) {
	var a domain.Assignment
	err := db.WithContext(ctx).
		Select("welcome_sent").
		Where("subject_id = ? AND scenario = ?", subjectID, scenario).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.WelcomeSent, nil
}

// MarkWelcomeSent records that the one-time group welcome was broadcast for
// the pair, stamping the time of the send. Idempotent.
func MarkWelcomeSent(ctx context.Context, db *gorm.DB, subjectID, scenario string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Assignment{}).
		Where("subject_id = ? AND scenario = ?", subjectID, scenario).
		Updates(map[string]any{
			"welcome_sent":    true,
			"welcome_sent_at": at.UTC(),
		}).Error
}

// CountAssignments returns the total number of assignment rows.
func CountAssignments(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Assignment{}).Count(&total).Error
	return total, err
}

// ListAssignmentsPage returns a page of assignments ordered newest-first.
// Use CountAssignments to obtain the total for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListAssignmentsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Assignment, error) {
	var out []domain.Assignment
	err := db.WithContext(ctx).
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
