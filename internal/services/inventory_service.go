// Package services – InventoryService
//
// This file implements InventoryService, the pool-claim delivery path. A CSV
// of pre-generated coupon links is bulk-imported once; each request then
// claims the oldest unassigned item atomically. The claim itself is an
// optimistic conditional update in the repository layer; this service only
// validates input and shapes results.
package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"gorm.io/gorm"

	"github.com/cityheroes/wecom-passbot/internal/domain"
	"github.com/cityheroes/wecom-passbot/internal/repo"
)

// InventoryService manages the pre-generated coupon pool.
type InventoryService struct {
	DB *gorm.DB
}

// NewInventoryService constructs an InventoryService.
func NewInventoryService(db *gorm.DB) *InventoryService {
	return &InventoryService{DB: db}
}

// ImportCSV bulk-loads unassigned items from r. The input must carry a
// download_link column (ErrMissingLinkColumn otherwise, with zero rows
// inserted); passcode and notes columns are optional. Rows with an empty
// link are skipped. Returns the number of rows inserted.
func (s *InventoryService) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return 0, ErrMissingLinkColumn
	}
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}

	linkIdx, passcodeIdx, notesIdx := -1, -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "download_link":
			linkIdx = i
		case "passcode":
			passcodeIdx = i
		case "notes":
			notesIdx = i
		}
	}
	if linkIdx < 0 {
		return 0, ErrMissingLinkColumn
	}

	field := func(row []string, idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var items []domain.InventoryItem
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read csv row: %w", err)
		}
		link := field(row, linkIdx)
		if link == "" {
			continue
		}
		items = append(items, domain.InventoryItem{
			DownloadLink: link,
			Passcode:     field(row, passcodeIdx),
			Notes:        field(row, notesIdx),
		})
	}

	return repo.InsertInventoryItems(ctx, s.DB, items)
}

// Claim assigns one pooled item to subjectID, FIFO. A nil item with a nil
// error means the pool is exhausted (or a concurrent claimant won); callers
// decide whether to retry.
func (s *InventoryService) Claim(ctx context.Context, subjectID, chatID string) (*domain.InventoryItem, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, ErrEmptySubject
	}
	return repo.ClaimInventoryItem(ctx, s.DB, subjectID, chatID)
}

// MarkDelivered flags a claimed item as successfully sent to its owner.
func (s *InventoryService) MarkDelivered(ctx context.Context, id uint) error {
	return repo.MarkInventoryDelivered(ctx, s.DB, id)
}

// Stats returns pool counters for the admin surface and the CLI.
func (s *InventoryService) Stats(ctx context.Context) (repo.InventoryStats, error) {
	return repo.CountInventory(ctx, s.DB)
}
