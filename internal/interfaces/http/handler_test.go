package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayline/internal/entities"
	"stayline/internal/infrastructure"
	"stayline/internal/repository"
	"stayline/internal/usecases"
)

type routerFixture struct {
	router   *gin.Engine
	sessions *repository.MemorySessionStore
	queue    *repository.MemoryQueueStore
	configs  *repository.MemoryConfigStore
	provider *httptest.Server
}

// providerStub answers every Cloud API call with a fresh message id.
func providerStub() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages": [{"id": "wamid.STUB"}]}`))
	}))
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &routerFixture{
		sessions: repository.NewMemorySessionStore(),
		queue:    repository.NewMemoryQueueStore(),
		configs:  repository.NewMemoryConfigStore(),
		provider: providerStub(),
	}
	t.Cleanup(f.provider.Close)

	hash, err := usecases.HashAPIKey("sk-test-1")
	require.NoError(t, err)
	f.configs.PutBusiness(&entities.Business{ID: "biz-1", Name: "Test Hotel", APIKeyHash: hash})

	registry := infrastructure.NewChannelRegistry()
	waCfg := entities.ChannelConfig{
		BusinessID: "biz-1",
		Channel:    entities.ChannelWhatsApp,
		Enabled:    true,
		WhatsApp: &entities.WhatsAppConfig{
			AccessToken:   "tok",
			PhoneNumberID: "123",
			VerifyToken:   "ver",
			APIBaseURL:    f.provider.URL,
		},
	}
	require.NoError(t, registry.Register(&waCfg))

	messages := repository.NewMemoryMessageStore()
	gateway := usecases.NewUnifiedGateway(
		registry,
		usecases.NewSessionResolver(f.sessions),
		messages,
		f.queue,
		f.configs,
		nil, // replies disabled
		nil,
		nil,
	)
	broadcaster := usecases.NewBroadcaster(gateway, nil)
	auth := usecases.NewAuthUsecase(f.configs, "test-secret")

	middleware := NewMiddleware("test-secret")
	handler := NewHandler(gateway, broadcaster, auth, f.sessions, messages, f.queue, f.configs, registry)
	webhooks := NewWebhookHandler(gateway, registry)

	f.router = gin.New()
	SetupRoutes(f.router, handler, webhooks, middleware)
	return f
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *routerFixture) login(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"business_id": "biz-1", "api_key": "sk-test-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestWebhookVerify(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/webhook/whatsapp/biz-1?hub.mode=subscribe&hub.verify_token=ver&hub.challenge=C123", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "C123", w.Body.String())

	w = f.do(t, http.MethodGet, "/webhook/whatsapp/biz-1?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=C123", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/webhook/whatsapp/biz-unknown?hub.mode=subscribe&hub.verify_token=ver&hub.challenge=C123", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookInbound(t *testing.T) {
	f := newRouterFixture(t)

	payload := `{"entry":[{"changes":[{"value":{
		"metadata": {"display_phone_number": "15550001111"},
		"messages": [{"from": "4915551234", "id": "wamid.T1", "type": "text", "text": {"body": "hi"}}]
	}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/biz-1", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Processed int `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Processed)

	sess, err := f.sessions.GetSession(req.Context(), "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestWebhookStatusRouteCreatesNoSession(t *testing.T) {
	f := newRouterFixture(t)

	// Even if a payload on the status URL carries message objects, only the
	// receipts may be applied.
	payload := `{"entry":[{"changes":[{"value":{
		"messages": [{"from": "4915559999", "id": "wamid.S1", "type": "text", "text": {"body": "hi"}}],
		"statuses": [{"id": "wamid.OUT1", "status": "delivered"}]
	}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/biz-1/status", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	sess, err := f.sessions.GetSession(req.Context(), "biz-1", entities.ChannelWhatsApp, "4915559999")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestWebhookInboundMalformedAcknowledged(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/biz-1", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresAuth(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodGet, "/api/queue", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/queue", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRejectsWrongKey(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"business_id": "biz-1", "api_key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendMessageEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/api/messages/send", token, gin.H{
		"channel":   "whatsapp",
		"recipient": "4915551234567",
		"body":      "Your room is ready",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Message entities.QueuedMessage `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, entities.StatusSent, resp.Message.Status)
	assert.Equal(t, "wamid.STUB", resp.Message.ProviderMessageID)
}

func TestSendMessageValidation(t *testing.T) {
	f := newRouterFixture(t)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/api/messages/send", token, gin.H{
		"channel":   "whatsapp",
		"recipient": "not-a-number",
		"body":      "hi",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/messages/send", token, gin.H{
		"channel":   "fax",
		"recipient": "4915551234567",
		"body":      "hi",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/messages/send", token, gin.H{
		"channel":   "whatsapp",
		"recipient": "4915551234567",
		"body":      "",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageUnconfiguredChannel(t *testing.T) {
	f := newRouterFixture(t)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/api/messages/send", token, gin.H{
		"channel":   "sms",
		"recipient": "+4915551234567",
		"body":      "hi",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBroadcastEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/api/messages/broadcast", token, gin.H{
		"channel":    "whatsapp",
		"recipients": []string{"4915551234501", "4915551234502"},
		"body":       "Happy hour at 6pm!",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result usecases.BroadcastResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Result.Total)
	assert.Equal(t, 2, resp.Result.Succeeded)
}

func TestQueueEndpoints(t *testing.T) {
	f := newRouterFixture(t)
	token := f.login(t)

	w := f.do(t, http.MethodPost, "/api/messages/send", token, gin.H{
		"channel":   "whatsapp",
		"recipient": "4915551234567",
		"body":      "hello",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var sendResp struct {
		Message entities.QueuedMessage `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sendResp))

	w = f.do(t, http.MethodGet, "/api/queue/"+sendResp.Message.ID, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/queue/nonexistent", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/queue?status=sent", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Messages []entities.QueuedMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Messages, 1)
}

func TestConversationMessagesScopedToBusiness(t *testing.T) {
	f := newRouterFixture(t)

	// An inbound message creates a conversation owned by biz-1.
	payload := `{"entry":[{"changes":[{"value":{
		"messages": [{"from": "4915551234", "id": "wamid.X1", "type": "text", "text": {"body": "hi"}}]
	}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp/biz-1", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	sess, err := f.sessions.GetSession(req.Context(), "biz-1", entities.ChannelWhatsApp, "4915551234")
	require.NoError(t, err)
	require.NotNil(t, sess)

	token := f.login(t)
	w = f.do(t, http.MethodGet, "/api/conversations/"+sess.ConversationID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Another tenant sees the same id as nonexistent.
	hash, err := usecases.HashAPIKey("sk-test-2")
	require.NoError(t, err)
	f.configs.PutBusiness(&entities.Business{ID: "biz-2", Name: "Other Hotel", APIKeyHash: hash})

	w = f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"business_id": "biz-2", "api_key": "sk-test-2"})
	require.Equal(t, http.StatusOK, w.Code)
	var loginResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginResp))

	w = f.do(t, http.MethodGet, "/api/conversations/"+sess.ConversationID+"/messages", loginResp.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/conversations/nonexistent/messages", loginResp.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetChannelConfigEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	token := f.login(t)

	w := f.do(t, http.MethodPut, "/api/channels/sms/config", token, gin.H{
		"enabled": true,
		"sms": gin.H{
			"account_sid":  "AC123",
			"auth_token":   "secret",
			"from_number":  "+15550001111",
			"api_base_url": f.provider.URL,
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The channel is now live for sends.
	w = f.do(t, http.MethodPost, "/api/messages/send", token, gin.H{
		"channel":   "sms",
		"recipient": "+4915551234567",
		"body":      "hi",
	})
	assert.NotEqual(t, http.StatusConflict, w.Code)

	// Invalid config is rejected.
	w = f.do(t, http.MethodPut, "/api/channels/sms/config", token, gin.H{
		"enabled": true,
		"sms":     gin.H{"account_sid": "AC123"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
