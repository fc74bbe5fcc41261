package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cityheroes/wecom-passbot/internal/domain"
)

func TestImportCSV_MissingLinkColumn(t *testing.T) {
	svc := NewInventoryService(newServiceDB(t))
	ctx := context.Background()

	for _, input := range []string{
		"",                        // empty file
		"passcode,notes\n1,hello", // header without download_link
	} {
		n, err := svc.ImportCSV(ctx, strings.NewReader(input))
		if !errors.Is(err, ErrMissingLinkColumn) {
			t.Fatalf("input %q: expected ErrMissingLinkColumn, got %v", input, err)
		}
		if n != 0 {
			t.Fatalf("input %q: expected zero rows, got %d", input, n)
		}
	}

	var count int64
	if err := svc.DB.Model(&domain.InventoryItem{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected import must insert nothing, got %d rows", count)
	}
}

func TestImportCSV_FullColumns(t *testing.T) {
	svc := NewInventoryService(newServiceDB(t))
	csvData := strings.Join([]string{
		"download_link,passcode,notes",
		"https://passes.example/a,1111,vip",
		"https://passes.example/b,2222,",
		",skipped,empty link row",
		"https://passes.example/c,,plain",
	}, "\n")

	n, err := svc.ImportCSV(context.Background(), strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows (one skipped), got %d", n)
	}

	var items []domain.InventoryItem
	if err := svc.DB.Order("id asc").Find(&items).Error; err != nil {
		t.Fatalf("load items: %v", err)
	}
	if items[0].Passcode != "1111" || items[0].Notes != "vip" {
		t.Fatalf("optional columns not captured: %+v", items[0])
	}
	if items[2].Passcode != "" || items[2].Notes != "plain" {
		t.Fatalf("sparse columns mishandled: %+v", items[2])
	}
}

func TestImportCSV_LinkOnlyHeader(t *testing.T) {
	svc := NewInventoryService(newServiceDB(t))
	n, err := svc.ImportCSV(context.Background(), strings.NewReader("download_link\nhttps://x/1\nhttps://x/2\n"))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestImportCSV_ReorderedColumns(t *testing.T) {
	svc := NewInventoryService(newServiceDB(t))
	n, err := svc.ImportCSV(context.Background(),
		strings.NewReader("notes,download_link\nhello,https://x/1\n"))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}

	var item domain.InventoryItem
	if err := svc.DB.First(&item).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if item.DownloadLink != "https://x/1" || item.Notes != "hello" {
		t.Fatalf("column order must not matter: %+v", item)
	}
}

func TestClaim_EmptySubject(t *testing.T) {
	svc := NewInventoryService(newServiceDB(t))
	if _, err := svc.Claim(context.Background(), " ", "chat"); !errors.Is(err, ErrEmptySubject) {
		t.Fatalf("expected ErrEmptySubject, got %v", err)
	}
}

func TestClaim_ThenStats(t *testing.T) {
	svc := NewInventoryService(newServiceDB(t))
	ctx := context.Background()

	if _, err := svc.ImportCSV(ctx, strings.NewReader("download_link\nhttps://x/1\nhttps://x/2\n")); err != nil {
		t.Fatalf("seed import: %v", err)
	}

	item, err := svc.Claim(ctx, "wm_user", "wr_chat")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if item == nil || item.DownloadLink != "https://x/1" {
		t.Fatalf("expected FIFO claim of first link, got %+v", item)
	}
	if err := svc.MarkDelivered(ctx, item.ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Unassigned != 1 || stats.Assigned != 1 || stats.Delivered != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
