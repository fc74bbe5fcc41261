package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cityheroes/wecom-passbot/internal/domain"
	"github.com/cityheroes/wecom-passbot/internal/pass2u"
	"github.com/cityheroes/wecom-passbot/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Assignment{}, &domain.InventoryItem{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeProvisioner returns a canned pass or error.
type fakeProvisioner struct {
	pass  *pass2u.Pass
	err   error
	calls int
}

func (f *fakeProvisioner) CreatePass(ctx context.Context, subjectID string, metadata map[string]string) (*pass2u.Pass, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pass, nil
}

// fakeMessenger scripts both message paths.
type fakeMessenger struct {
	kfErr        error
	welcomeErr   error
	templateID   string
	contactURL   string
	kfTexts      []string
	welcomeCalls int
}

func (f *fakeMessenger) SendKFText(ctx context.Context, externalUserID, content string) error {
	f.kfTexts = append(f.kfTexts, content)
	return f.kfErr
}

func (f *fakeMessenger) SendGroupWelcome(ctx context.Context, chatID, externalUserID, templateID string) error {
	f.welcomeCalls++
	return f.welcomeErr
}

func (f *fakeMessenger) KFAddContactURL(ctx context.Context, externalUserID, scene string) (string, error) {
	return f.contactURL, nil
}

func (f *fakeMessenger) WelcomeTemplateID() string { return f.templateID }

func newTestDelivery(t *testing.T, p PassProvisioner, m Messenger) *DeliveryService {
	t.Helper()
	return NewDeliveryService(newServiceDB(t), p, m, zerolog.Nop())
}

func TestHandleGroupJoin_EmptySubject(t *testing.T) {
	svc := newTestDelivery(t, &fakeProvisioner{}, &fakeMessenger{})
	if _, err := svc.HandleGroupJoin(context.Background(), "  ", "chat"); !errors.Is(err, ErrEmptySubject) {
		t.Fatalf("expected ErrEmptySubject, got %v", err)
	}
}

func TestHandleGroupJoin_HappyPath_Delivered(t *testing.T) {
	prov := &fakeProvisioner{pass: &pass2u.Pass{
		Link:   "https://passes.example/p/1",
		PassID: "p1",
		Raw:    []byte(`{"passId":"p1"}`),
	}}
	msgr := &fakeMessenger{}
	svc := newTestDelivery(t, prov, msgr)
	ctx := context.Background()

	res, err := svc.HandleGroupJoin(ctx, "wm_user", "wr_chat")
	if err != nil {
		t.Fatalf("HandleGroupJoin: %v", err)
	}
	if res.Status != StatusDelivered {
		t.Fatalf("expected delivered, got %s", res.Status)
	}
	if res.Link != "https://passes.example/p/1" {
		t.Fatalf("unexpected link: %q", res.Link)
	}
	if len(msgr.kfTexts) != 1 {
		t.Fatalf("expected one private message, got %d", len(msgr.kfTexts))
	}
	if msgr.welcomeCalls != 0 {
		t.Fatalf("welcome must not fire when private delivery works")
	}

	a, err := repo.GetAssignment(ctx, svc.DB, "wm_user", svc.Scenario)
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if !a.Delivered || a.Link == "" || a.PassID != "p1" {
		t.Fatalf("assignment not recorded as delivered: %+v", a)
	}
}

func TestHandleGroupJoin_ProvisionFailure_WritesPlaceholderAndSendsInvite(t *testing.T) {
	prov := &fakeProvisioner{err: errors.New("pass2u down")}
	msgr := &fakeMessenger{}
	svc := newTestDelivery(t, prov, msgr)
	ctx := context.Background()

	res, err := svc.HandleGroupJoin(ctx, "wm_user", "wr_chat")
	if err != nil {
		t.Fatalf("vendor failure must not propagate: %v", err)
	}
	if res.Status != StatusDelivered {
		t.Fatalf("invite text still counts as delivered, got %s", res.Status)
	}
	if len(msgr.kfTexts) != 1 || msgr.kfTexts[0] != svc.FallbackMessage {
		t.Fatalf("expected fallback invite text, got %v", msgr.kfTexts)
	}

	a, err := repo.GetAssignment(ctx, svc.DB, "wm_user", svc.Scenario)
	if err != nil {
		t.Fatalf("placeholder row missing: %v", err)
	}
	if a.Link != "" || a.ChatID != "wr_chat" {
		t.Fatalf("unexpected placeholder: %+v", a)
	}
}

func TestHandleGroupJoin_KFFails_WelcomeSentOnce(t *testing.T) {
	prov := &fakeProvisioner{pass: &pass2u.Pass{Link: "l", PassID: "p"}}
	msgr := &fakeMessenger{kfErr: errors.New("95011 not in scope"), templateID: "tmpl_1"}
	svc := newTestDelivery(t, prov, msgr)
	ctx := context.Background()

	res, err := svc.HandleGroupJoin(ctx, "wm_user", "wr_chat")
	if err != nil {
		t.Fatalf("HandleGroupJoin: %v", err)
	}
	if res.Status != StatusWelcomeSent {
		t.Fatalf("expected welcome_sent, got %s", res.Status)
	}
	if msgr.welcomeCalls != 1 {
		t.Fatalf("expected one broadcast, got %d", msgr.welcomeCalls)
	}

	// Second event for the same pair: private send still attempted, broadcast
	// suppressed by the sent-once flag.
	res, err = svc.HandleGroupJoin(ctx, "wm_user", "wr_chat")
	if err != nil {
		t.Fatalf("second HandleGroupJoin: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed on replay, got %s", res.Status)
	}
	if msgr.welcomeCalls != 1 {
		t.Fatalf("broadcast must fire at most once per pair, got %d", msgr.welcomeCalls)
	}
	if len(msgr.kfTexts) != 2 {
		t.Fatalf("private send must be attempted on every event, got %d", len(msgr.kfTexts))
	}
}

func TestHandleGroupJoin_KFFails_NoTemplateConfigured(t *testing.T) {
	prov := &fakeProvisioner{pass: &pass2u.Pass{Link: "l"}}
	msgr := &fakeMessenger{kfErr: errors.New("send failed"), templateID: ""}
	svc := newTestDelivery(t, prov, msgr)

	res, err := svc.HandleGroupJoin(context.Background(), "wm_user", "wr_chat")
	if err != nil {
		t.Fatalf("HandleGroupJoin: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed when no template configured, got %s", res.Status)
	}
	if msgr.welcomeCalls != 0 {
		t.Fatalf("broadcast must not be attempted without a template")
	}
}

func TestHandleGroupJoin_WelcomeBroadcastFails(t *testing.T) {
	prov := &fakeProvisioner{pass: &pass2u.Pass{Link: "l"}}
	msgr := &fakeMessenger{
		kfErr:      errors.New("send failed"),
		welcomeErr: errors.New("broadcast failed"),
		templateID: "tmpl_1",
		contactURL: "https://work.weixin.qq.com/kf/abc",
	}
	svc := newTestDelivery(t, prov, msgr)
	ctx := context.Background()

	res, err := svc.HandleGroupJoin(ctx, "wm_user", "wr_chat")
	if err != nil {
		t.Fatalf("HandleGroupJoin: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}

	// Failed broadcast must not set the sent-once flag.
	sent, err := repo.IsWelcomeSent(ctx, svc.DB, "wm_user", svc.Scenario)
	if err != nil || sent {
		t.Fatalf("flag must stay clear after failed broadcast: sent=%v err=%v", sent, err)
	}

	// A later event can still resolve through the broadcast.
	msgr.welcomeErr = nil
	res, err = svc.HandleGroupJoin(ctx, "wm_user", "wr_chat")
	if err != nil {
		t.Fatalf("retry HandleGroupJoin: %v", err)
	}
	if res.Status != StatusWelcomeSent {
		t.Fatalf("failed pair should recover to welcome_sent, got %s", res.Status)
	}
}

func TestHandleGroupJoin_ReprovisionRefreshesLink(t *testing.T) {
	prov := &fakeProvisioner{pass: &pass2u.Pass{Link: "link-1", PassID: "p1"}}
	msgr := &fakeMessenger{}
	svc := newTestDelivery(t, prov, msgr)
	ctx := context.Background()

	if _, err := svc.HandleGroupJoin(ctx, "wm_user", "wr_chat"); err != nil {
		t.Fatalf("first event: %v", err)
	}

	prov.pass = &pass2u.Pass{Link: "link-2", PassID: "p2"}
	if _, err := svc.HandleGroupJoin(ctx, "wm_user", "wr_chat"); err != nil {
		t.Fatalf("second event: %v", err)
	}

	total, err := repo.CountAssignments(ctx, svc.DB)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Fatalf("replayed event must not add rows, got %d", total)
	}
	a, err := repo.GetAssignment(ctx, svc.DB, "wm_user", svc.Scenario)
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if a.Link != "link-2" || !a.Delivered {
		t.Fatalf("metadata not refreshed or flag lost: %+v", a)
	}
}
