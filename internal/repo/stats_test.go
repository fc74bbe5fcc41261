package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cityheroes/wecom-passbot/internal/domain"
)

func TestCountAssignmentStats_Empty(t *testing.T) {
	db := newRepoDB(t, &domain.Assignment{})
	s, err := CountAssignmentStats(context.Background(), db)
	if err != nil {
		t.Fatalf("CountAssignmentStats: %v", err)
	}
	if s.Total != 0 || s.Delivered != 0 || s.Undelivered != 0 || s.WelcomeSent != 0 {
		t.Fatalf("expected zero counters, got %+v", s)
	}
}

func TestCountAssignmentStats_Counters(t *testing.T) {
	db := newRepoDB(t, &domain.Assignment{})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		a := domain.Assignment{SubjectID: fmt.Sprintf("u%d", i), Scenario: "s"}
		if err := UpsertAssignment(ctx, db, &a); err != nil {
			t.Fatalf("seed u%d: %v", i, err)
		}
	}
	if err := MarkAssignmentDelivered(ctx, db, "u1", "s"); err != nil {
		t.Fatalf("deliver u1: %v", err)
	}
	if err := MarkAssignmentDelivered(ctx, db, "u2", "s"); err != nil {
		t.Fatalf("deliver u2: %v", err)
	}
	if err := MarkWelcomeSent(ctx, db, "u3", "s", time.Now()); err != nil {
		t.Fatalf("welcome u3: %v", err)
	}

	s, err := CountAssignmentStats(ctx, db)
	if err != nil {
		t.Fatalf("CountAssignmentStats: %v", err)
	}
	if s.Total != 4 || s.Delivered != 2 || s.Undelivered != 2 || s.WelcomeSent != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
}

func TestRecentAssignments_DefaultLimitAndOrder(t *testing.T) {
	db := newRepoDB(t, &domain.Assignment{})
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		a := domain.Assignment{SubjectID: fmt.Sprintf("u%02d", i), Scenario: "s"}
		if err := UpsertAssignment(ctx, db, &a); err != nil {
			t.Fatalf("seed u%02d: %v", i, err)
		}
	}

	// limit <= 0 falls back to 20
	recent, err := RecentAssignments(ctx, db, 0)
	if err != nil {
		t.Fatalf("RecentAssignments: %v", err)
	}
	if len(recent) != 20 {
		t.Fatalf("expected default limit 20, got %d", len(recent))
	}
	if recent[0].SubjectID != "u25" {
		t.Fatalf("expected newest first, got %s", recent[0].SubjectID)
	}
}
