package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"stayline/internal/entities"
	"stayline/internal/infrastructure"
	"stayline/internal/interfaces"
	"stayline/internal/usecases"
)

type Handler struct {
	gateway     *usecases.UnifiedGateway
	broadcaster *usecases.Broadcaster
	auth        *usecases.AuthUsecase
	sessions    interfaces.SessionStore
	messages    interfaces.MessageStore
	queue       interfaces.QueueStore
	configs     interfaces.ConfigStore
	registry    *infrastructure.ChannelRegistry
}

func NewHandler(
	gateway *usecases.UnifiedGateway,
	broadcaster *usecases.Broadcaster,
	auth *usecases.AuthUsecase,
	sessions interfaces.SessionStore,
	messages interfaces.MessageStore,
	queue interfaces.QueueStore,
	configs interfaces.ConfigStore,
	registry *infrastructure.ChannelRegistry,
) *Handler {
	return &Handler{
		gateway:     gateway,
		broadcaster: broadcaster,
		auth:        auth,
		sessions:    sessions,
		messages:    messages,
		queue:       queue,
		configs:     configs,
		registry:    registry,
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, webhooks *WebhookHandler, middleware *Middleware) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(10 << 20)) // 10MB max request size
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider callbacks are authenticated by the providers' own schemes
	// (verify token, basic-auth callbacks), not by our JWTs.
	r.GET("/webhook/:channel/:business_id", webhooks.Verify)
	r.POST("/webhook/:channel/:business_id", webhooks.Inbound)
	r.POST("/webhook/:channel/:business_id/status", webhooks.Status)

	r.POST("/api/auth/login", h.Login)

	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerBusiness(5, 10))
	{
		api.POST("/messages/send", h.SendMessage)
		api.POST("/messages/broadcast", h.Broadcast)
		api.GET("/conversations/:id/messages", h.ConversationMessages)
		api.GET("/queue", h.ListQueue)
		api.GET("/queue/:id", h.GetQueued)
		api.PUT("/channels/:channel/config", h.SetChannelConfig)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var loginReq struct {
		BusinessID string `json:"business_id"`
		APIKey     string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, err := h.auth.Login(c.Request.Context(), loginReq.BusinessID, loginReq.APIKey)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type sendRequest struct {
	Channel      string `json:"channel"`
	Recipient    string `json:"recipient"`
	Body         string `json:"body"`
	Kind         string `json:"kind"`
	MediaRef     string `json:"media_ref"`
	ScheduledFor string `json:"scheduled_for"` // RFC 3339, optional
	Priority     int    `json:"priority"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	businessID := c.GetString("business_id")

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	channel := entities.Channel(req.Channel)
	if !channel.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	if res := CheckRecipient(channel, req.Recipient); !res.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Reason, "validation": res})
		return
	}
	body := SanitizeString(req.Body)
	if !ValidateLength(body, 1, MaxBodyLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be 1-4096 bytes"})
		return
	}

	kind := entities.MessageKind(req.Kind)
	if req.Kind == "" {
		kind = entities.KindText
	}

	var scheduledFor time.Time
	if req.ScheduledFor != "" {
		var err error
		scheduledFor, err = time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_for must be RFC 3339"})
			return
		}
	}

	msg, err := h.gateway.SendMessage(c.Request.Context(), usecases.SendRequest{
		BusinessID:   businessID,
		Channel:      channel,
		Recipient:    req.Recipient,
		Body:         body,
		Kind:         kind,
		MediaRef:     req.MediaRef,
		ScheduledFor: scheduledFor,
		Priority:     req.Priority,
	})
	if err != nil {
		// The message may still be queued for retry; report both.
		if msg != nil {
			c.JSON(http.StatusAccepted, gin.H{"message": msg, "error": err.Error()})
			return
		}
		status := http.StatusBadGateway
		if entities.KindOf(err) == entities.ErrKindConfig {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

type broadcastRequest struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients"`
	Body       string   `json:"body"`
}

func (h *Handler) Broadcast(c *gin.Context) {
	businessID := c.GetString("business_id")

	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	channel := entities.Channel(req.Channel)
	if !channel.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}
	if len(req.Recipients) == 0 || len(req.Recipients) > MaxBroadcastSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipients must be 1-10000 entries"})
		return
	}
	body := SanitizeString(req.Body)
	if !ValidateLength(body, 1, MaxBodyLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be 1-4096 bytes"})
		return
	}

	result, err := h.broadcaster.Broadcast(c.Request.Context(), businessID, channel, req.Recipients, body)
	if err != nil {
		status := http.StatusBadGateway
		switch entities.KindOf(err) {
		case entities.ErrKindValidation:
			status = http.StatusBadRequest
		case entities.ErrKindConfig:
			status = http.StatusConflict
		}
		if result != nil {
			c.JSON(status, gin.H{"result": result, "error": err.Error()})
			return
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *Handler) ConversationMessages(c *gin.Context) {
	conversationID := c.Param("id")

	// Transcripts are tenant data; an id from another business reads as
	// nonexistent.
	conv, err := h.sessions.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil || conv.BusinessID != c.GetString("business_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	history, err := h.messages.History(c.Request.Context(), conversationID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}

func (h *Handler) GetQueued(c *gin.Context) {
	msg, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msg == nil || msg.BusinessID != c.GetString("business_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) ListQueue(c *gin.Context) {
	businessID := c.GetString("business_id")
	status := entities.QueueStatus(c.DefaultQuery("status", string(entities.StatusPending)))

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	msgs, err := h.queue.ListByStatus(c.Request.Context(), businessID, status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SetChannelConfig installs or replaces a channel configuration for the
// authenticated business and refreshes the live adapter.
func (h *Handler) SetChannelConfig(c *gin.Context) {
	businessID := c.GetString("business_id")
	channel := entities.Channel(c.Param("channel"))
	if !channel.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}

	var cfg entities.ChannelConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	cfg.BusinessID = businessID
	cfg.Channel = channel

	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.configs.SetChannelConfig(c.Request.Context(), &cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if cfg.Enabled {
		if err := h.registry.Register(&cfg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else {
		h.registry.Remove(businessID, channel)
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
