// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// InventoryItem is one pre-generated coupon in the pool-claim delivery path.
// Items are bulk-loaded from CSV and handed out first-in-first-out.
//
// Once AssignedTo is non-nil the item is permanently claimed. Claiming is a
// single conditional UPDATE that only succeeds while the item is still
// unassigned, so two concurrent requests can never receive the same row.
type InventoryItem struct {
	ID             uint       `json:"id"               gorm:"primaryKey;autoIncrement"`
	DownloadLink   string     `json:"download_link"    gorm:"type:text;not null"`
	Passcode       string     `json:"passcode,omitempty" gorm:"type:varchar(64)"`
	Notes          string     `json:"notes,omitempty"  gorm:"type:text"`
	AssignedTo     *string    `json:"assigned_to,omitempty"      gorm:"type:varchar(64);index:idx_inventory_assigned"`
	AssignedChatID *string    `json:"assigned_chat_id,omitempty" gorm:"type:varchar(64)"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	Delivered      bool       `json:"delivered"        gorm:"not null;default:false"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName returns the database table name for InventoryItem.
func (InventoryItem) TableName() string { return "inventory_items" }
