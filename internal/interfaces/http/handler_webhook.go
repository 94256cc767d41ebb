package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"stayline/internal/entities"
	"stayline/internal/infrastructure"
	"stayline/internal/usecases"
)

// WebhookHandler terminates provider callbacks: verification handshakes,
// inbound messages and delivery-status updates.
type WebhookHandler struct {
	gateway  *usecases.UnifiedGateway
	registry *infrastructure.ChannelRegistry
}

func NewWebhookHandler(gateway *usecases.UnifiedGateway, registry *infrastructure.ChannelRegistry) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, registry: registry}
}

// Verify answers the provider's GET handshake. WhatsApp sends hub.mode,
// hub.verify_token and hub.challenge; the challenge is echoed back verbatim
// on a token match.
func (h *WebhookHandler) Verify(c *gin.Context) {
	channel := entities.Channel(c.Param("channel"))
	businessID := c.Param("business_id")

	adapter, err := h.registry.Get(businessID, channel)
	if err != nil {
		c.String(http.StatusNotFound, "unknown channel")
		return
	}

	challenge, err := adapter.VerifyWebhook(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if err != nil {
		if entities.KindOf(err) == entities.ErrKindUnsupported {
			c.String(http.StatusNotFound, "no handshake for this channel")
			return
		}
		c.String(http.StatusForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// Inbound accepts one webhook delivery. Malformed payloads are acknowledged
// with 200 so the provider stops retrying; only infrastructure failures get
// a 5xx.
func (h *WebhookHandler) Inbound(c *gin.Context) {
	channel := entities.Channel(c.Param("channel"))
	businessID := c.Param("business_id")

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	processed, err := h.gateway.ReceiveWebhook(c.Request.Context(), businessID, channel, raw, c.ContentType())
	if err != nil {
		if entities.KindOf(err) == entities.ErrKindConfig {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received", "processed": processed})
}

// Status accepts provider delivery-status callbacks posted to a dedicated
// URL (Twilio's StatusCallback). Only receipts are applied here; a callback
// can never open a session or append to a conversation.
func (h *WebhookHandler) Status(c *gin.Context) {
	channel := entities.Channel(c.Param("channel"))
	businessID := c.Param("business_id")

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	applied, err := h.gateway.ReceiveStatusCallback(c.Request.Context(), businessID, channel, raw, c.ContentType())
	if err != nil {
		if entities.KindOf(err) == entities.ErrKindConfig {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received", "applied": applied})
}
