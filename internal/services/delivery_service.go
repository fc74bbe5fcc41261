// Package services – DeliveryService
//
// This file implements DeliveryService, the application-level component that
// owns the provision-then-deliver flow for new group members. For each
// affected subject it provisions a wallet pass, records the outcome (failed
// provisioning still writes a placeholder row), attempts a private KF
// message, and falls back to a one-time group welcome broadcast when the
// private send fails.
//
// The per-pair state machine is linear:
//
//	NEW -> PROVISIONED -> {DELIVERED | WELCOME_SENT | FAILED}
//
// with no retries and no re-entry once resolved, except that FAILED can
// later transition to WELCOME_SENT on a subsequent event for the same pair:
// the sent-once flag only suppresses the broadcast, never the private-message
// attempt.
//
// Observability: HandleGroupJoin is OpenTelemetry-instrumented; spans include
// subject/chat identifiers and the resolved delivery status.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cityheroes/wecom-passbot/internal/domain"
	"github.com/cityheroes/wecom-passbot/internal/pass2u"
	"github.com/cityheroes/wecom-passbot/internal/repo"
)

// DeliveryStatus is the terminal state of one delivery attempt.
type DeliveryStatus string

// Delivery outcomes.
const (
	StatusDelivered   DeliveryStatus = "delivered"
	StatusWelcomeSent DeliveryStatus = "welcome_sent"
	StatusFailed      DeliveryStatus = "failed"
)

// PassProvisioner creates a wallet pass for a subject. Implementations must
// be safe for concurrent use.
type PassProvisioner interface {
	CreatePass(ctx context.Context, subjectID string, metadata map[string]string) (*pass2u.Pass, error)
}

// Messenger delivers messages through the messaging platform. Implementations
// must be safe for concurrent use.
type Messenger interface {
	// SendKFText sends a private text message to the subject.
	SendKFText(ctx context.Context, externalUserID, content string) error
	// SendGroupWelcome broadcasts the fixed welcome template; an empty
	// templateID selects the configured default.
	SendGroupWelcome(ctx context.Context, chatID, externalUserID, templateID string) error
	// KFAddContactURL generates a manual-contact link for diagnostics.
	KFAddContactURL(ctx context.Context, externalUserID, scene string) (string, error)
	// WelcomeTemplateID returns the configured default template id; empty
	// disables the fallback broadcast entirely.
	WelcomeTemplateID() string
}

// DeliveryResult summarizes how one (subject, scenario) event resolved.
type DeliveryResult struct {
	SubjectID string         `json:"subject_id"`
	ChatID    string         `json:"chat_id"`
	Scenario  string         `json:"scenario"`
	Link      string         `json:"link,omitempty"`
	Status    DeliveryStatus `json:"status"`
}

// DeliveryService coordinates provisioning, persistence, and two-tier
// delivery. Vendor failures never propagate out of HandleGroupJoin; only
// store errors do.
type DeliveryService struct {
	DB        *gorm.DB
	Passes    PassProvisioner
	Messenger Messenger

	// Scenario tags every assignment produced by this service.
	Scenario string
	// LinkMessage must contain one %s verb for the pass link.
	LinkMessage string
	// FallbackMessage is sent when provisioning yielded no link.
	FallbackMessage string

	Log zerolog.Logger
}

// NewDeliveryService constructs a DeliveryService with default message
// templates and the standard group-join scenario tag.
func NewDeliveryService(db *gorm.DB, passes PassProvisioner, msgr Messenger, log zerolog.Logger) *DeliveryService {
	return &DeliveryService{
		DB:              db,
		Passes:          passes,
		Messenger:       msgr,
		Scenario:        "wecom_group_join",
		LinkMessage:     "Welcome aboard! Here is your personal pass:\n%s\nOpen it to add it to your wallet.",
		FallbackMessage: "Welcome aboard! Message me privately to claim your member pass.",
		Log:             log.With().Str("component", "delivery").Logger(),
	}
}

// HandleGroupJoin runs the full flow for one subject that joined chatID:
//
//  1. Provision a pass and upsert the outcome (placeholder on failure).
//  2. Send the private KF message (link text, or a generic invite).
//  3. On success, mark delivered and stop.
//  4. On failure, broadcast the group welcome once per pair, gated by the
//     welcome-sent flag and the presence of a configured template.
//
// The returned result is always non-nil unless a store error occurred.
func (s *DeliveryService) HandleGroupJoin(ctx context.Context, subjectID, chatID string) (*DeliveryResult, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, ErrEmptySubject
	}

	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "HandleGroupJoin",
		trace.WithAttributes(
			attribute.String("subject.id", subjectID),
			attribute.String("chat.id", chatID),
		),
	)
	defer span.End()

	res := &DeliveryResult{
		SubjectID: subjectID,
		ChatID:    chatID,
		Scenario:  s.Scenario,
		Status:    StatusFailed,
	}

	link, err := s.provision(ctx, subjectID, chatID)
	if err != nil {
		return nil, err
	}
	res.Link = link

	text := s.FallbackMessage
	if link != "" {
		text = fmt.Sprintf(s.LinkMessage, link)
	}

	sendErr := s.Messenger.SendKFText(ctx, subjectID, text)
	if sendErr == nil {
		if err := repo.MarkAssignmentDelivered(ctx, s.DB, subjectID, s.Scenario); err != nil {
			return nil, err
		}
		res.Status = StatusDelivered
		span.SetAttributes(attribute.String("delivery.status", string(res.Status)))
		return res, nil
	}
	s.Log.Warn().Err(sendErr).Str("subject_id", subjectID).Msg("private delivery failed")

	status, err := s.welcomeFallback(ctx, subjectID, chatID)
	if err != nil {
		return nil, err
	}
	res.Status = status
	span.SetAttributes(attribute.String("delivery.status", string(res.Status)))
	return res, nil
}

// provision creates the pass and records the outcome. Provisioning failures
// are logged and swallowed: a placeholder row with an empty link is still
// written so later events for the pair keep their delivery state.
func (s *DeliveryService) provision(ctx context.Context, subjectID, chatID string) (string, error) {
	a := &domain.Assignment{
		SubjectID: subjectID,
		Scenario:  s.Scenario,
		ChatID:    chatID,
	}

	pass, err := s.Passes.CreatePass(ctx, subjectID, map[string]string{
		"scene":   s.Scenario,
		"chat_id": chatID,
	})
	if err != nil {
		s.Log.Warn().Err(err).Str("subject_id", subjectID).Msg("pass provisioning failed")
	} else {
		a.Link = pass.Link
		a.PassID = pass.PassID
		a.ModelID = pass.ModelID
		a.BarcodeMessage = pass.BarcodeMessage
		a.ExpirationDate = pass.ExpirationDate
		a.CreatedTime = pass.CreatedTime
		a.RawResponse = string(pass.Raw)
	}

	if err := repo.UpsertAssignment(ctx, s.DB, a); err != nil {
		return "", err
	}
	return a.Link, nil
}

// welcomeFallback broadcasts the group welcome at most once per pair. When
// the broadcast is unavailable or fails, the event resolves as failed and a
// diagnostic with a manual-contact link (when obtainable) is logged for
// manual follow-up.
func (s *DeliveryService) welcomeFallback(ctx context.Context, subjectID, chatID string) (DeliveryStatus, error) {
	if s.Messenger.WelcomeTemplateID() == "" {
		s.Log.Warn().Str("subject_id", subjectID).Msg("no welcome template configured; giving up")
		return StatusFailed, nil
	}

	sent, err := repo.IsWelcomeSent(ctx, s.DB, subjectID, s.Scenario)
	if err != nil {
		return StatusFailed, err
	}
	if sent {
		s.Log.Info().Str("subject_id", subjectID).Msg("welcome already sent; skipping broadcast")
		return StatusFailed, nil
	}

	if err := s.Messenger.SendGroupWelcome(ctx, chatID, subjectID, ""); err != nil {
		ev := s.Log.Error().Err(err).Str("subject_id", subjectID).Str("chat_id", chatID)
		if url, uerr := s.Messenger.KFAddContactURL(ctx, subjectID, s.Scenario); uerr == nil && url != "" {
			ev = ev.Str("contact_url", url)
		}
		ev.Msg("welcome broadcast failed; manual follow-up needed")
		return StatusFailed, nil
	}

	if err := repo.MarkWelcomeSent(ctx, s.DB, subjectID, s.Scenario, time.Now()); err != nil {
		return StatusFailed, err
	}
	return StatusWelcomeSent, nil
}
