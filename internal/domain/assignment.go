// Package domain defines the persistence models for pass assignments and
// the pre-generated coupon inventory. These types are mapped with GORM and
// form the core data layer of the pass-delivery bot.
package domain

import "time"

// Assignment records the provisioning and delivery outcome for one
// (subject, scenario) pair. Exactly one row exists per pair; re-provisioning
// the same pair updates the row in place instead of inserting a duplicate.
//
// Fields:
//   - ID: autoincrement primary key.
//   - SubjectID: external user identifier of the member; part of the
//     uniqueness key.
//   - Scenario: business context tag (e.g. "wecom_group_join"). The empty
//     string is a legitimate value and participates in uniqueness; the column
//     is NOT NULL DEFAULT '' so a NULL/empty mismatch can never produce a
//     second row for the same pair.
//   - ChatID: group chat the member joined (optional context).
//   - Link: resolvable pass download URL; empty when provisioning failed
//     (a placeholder row is still written).
//   - PassID/ModelID/BarcodeMessage/ExpirationDate/CreatedTime: pass
//     metadata echoed by the issuing API.
//   - RawResponse: opaque vendor response blob kept for audit.
//   - Delivered: set once the private KF message was accepted.
//   - WelcomeSent/WelcomeSentAt: set once the group welcome fallback was
//     broadcast; the broadcast fires at most once per pair.
type Assignment struct {
	ID             uint       `json:"id"               gorm:"primaryKey;autoIncrement"`
	SubjectID      string     `json:"subject_id"       gorm:"type:varchar(64);not null;uniqueIndex:ux_assignments_subject_scenario,priority:1"`
	Scenario       string     `json:"scenario"         gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_assignments_subject_scenario,priority:2"`
	ChatID         string     `json:"chat_id"          gorm:"type:varchar(64)"`
	Link           string     `json:"link"             gorm:"type:text"`
	PassID         string     `json:"pass_id"          gorm:"type:varchar(128)"`
	ModelID        string     `json:"model_id"         gorm:"type:varchar(64)"`
	BarcodeMessage string     `json:"barcode_message"  gorm:"type:text"`
	ExpirationDate string     `json:"expiration_date"  gorm:"type:varchar(64)"`
	CreatedTime    string     `json:"created_time"     gorm:"type:varchar(64)"`
	RawResponse    string     `json:"-"                gorm:"type:text"`
	Delivered      bool       `json:"delivered"        gorm:"not null;default:false"`
	WelcomeSent    bool       `json:"welcome_sent"     gorm:"not null;default:false"`
	WelcomeSentAt  *time.Time `json:"welcome_sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Assignment.
func (Assignment) TableName() string { return "assignments" }
