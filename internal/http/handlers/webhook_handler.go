// WeCom callback HTTP handlers.
//
// This file exposes the two callback endpoints:
//   - GET  /wecom/callback  (URL verification echo handshake)
//   - POST /wecom/callback  (encrypted event delivery)
//
// The transport protocol expects a bare "success" acknowledgment regardless
// of internal outcomes; it has no way to signal partial failure. The only
// rejection is an authentication failure (bad signature or ciphertext),
// which answers 403 without processing. Everything else is confined to logs,
// metrics, and the assignment store.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cityheroes/wecom-passbot/internal/http/middleware"
	"github.com/cityheroes/wecom-passbot/internal/services"
	"github.com/cityheroes/wecom-passbot/internal/wecom"
)

// maxCallbackBody bounds the encrypted callback payload size.
const maxCallbackBody = 1 << 20

// CallbackCrypto verifies and decrypts WeCom callback payloads.
// *wecom.Crypto satisfies it; tests substitute a fake.
type CallbackCrypto interface {
	VerifyURL(msgSignature, timestamp, nonce, echostr string) (string, error)
	DecryptMessage(msgSignature, timestamp, nonce, encrypted string) ([]byte, error)
}

// Deliverer runs the provision-and-deliver flow for one subject.
// *services.DeliveryService satisfies it.
type Deliverer interface {
	HandleGroupJoin(ctx context.Context, subjectID, chatID string) (*services.DeliveryResult, error)
}

// WebhookHandlers serves the WeCom callback endpoints.
type WebhookHandlers struct {
	crypto   CallbackCrypto
	delivery Deliverer
}

// NewWebhookHandlers constructs WebhookHandlers bound to the given crypto and
// delivery service.
func NewWebhookHandlers(crypto CallbackCrypto, delivery Deliverer) *WebhookHandlers {
	return &WebhookHandlers{crypto: crypto, delivery: delivery}
}

// Verify handles the GET echo handshake performed when the callback URL is
// registered. On signature success the decrypted echo is returned verbatim
// as plain text.
func (h *WebhookHandlers) Verify(c *gin.Context) {
	echo, err := h.crypto.VerifyURL(
		c.Query("msg_signature"),
		c.Query("timestamp"),
		c.Query("nonce"),
		c.Query("echostr"),
	)
	if err != nil {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "signature verification failed")
		return
	}
	c.String(http.StatusOK, echo)
}

// Events handles encrypted event callbacks. Group-join events trigger one
// delivery flow per affected subject; all other events are acknowledged and
// skipped. Per-subject failures are logged and counted but never change the
// acknowledgment.
func (h *WebhookHandlers) Events(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	env, err := wecom.ParseEnvelope(body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed callback envelope")
		return
	}

	msg, err := h.crypto.DecryptMessage(
		c.Query("msg_signature"),
		c.Query("timestamp"),
		c.Query("nonce"),
		env.Encrypt,
	)
	if err != nil {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "signature verification failed")
		return
	}

	ev, err := wecom.ParseEvent(msg)
	if err != nil {
		lg.Warn().Err(err).Msg("undecodable event; acknowledging anyway")
		c.String(http.StatusOK, "success")
		return
	}

	if ev.IsGroupJoin() {
		for _, subjectID := range ev.SubjectIDs {
			res, err := h.delivery.HandleGroupJoin(c.Request.Context(), subjectID, ev.ChatID)
			if err != nil {
				middleware.CountDelivery("error")
				lg.Error().Err(err).Str("subject_id", subjectID).Msg("delivery flow failed")
				continue
			}
			middleware.CountDelivery(string(res.Status))
			lg.Info().
				Str("subject_id", subjectID).
				Str("chat_id", ev.ChatID).
				Str("status", string(res.Status)).
				Bool("has_link", res.Link != "").
				Msg("group join handled")
		}
	} else {
		lg.Debug().
			Str("event", ev.Event).
			Str("change_type", ev.ChangeType).
			Msg("event skipped")
	}

	c.String(http.StatusOK, "success")
}
