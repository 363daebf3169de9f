package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/auth"
	"chat-relay/internal/middleware"
	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/telemetry"
)

type chatServiceMock struct {
	mock.Mock
}

func (m *chatServiceMock) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	args := m.Called(ctx, token)
	var identity auth.Identity
	if val := args.Get(0); val != nil {
		identity = val.(auth.Identity)
	}
	return identity, args.Error(1)
}

func (m *chatServiceMock) Recent(ctx context.Context) []models.Message {
	args := m.Called(ctx)
	return args.Get(0).([]models.Message)
}

func (m *chatServiceMock) Sessions() int {
	return m.Called().Int(0)
}

func setupChatRouter(service ChatService, identity auth.IdentityProvider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewChatHandler(service)
	r := gin.New()
	r.GET("/healthz", handler.Health)
	r.POST("/check-token", handler.CheckToken)
	r.GET("/api/history", middleware.AuthMiddleware(identity), handler.History)
	return r
}

func TestHealthReportsSessions(t *testing.T) {
	service := new(chatServiceMock)
	service.On("Sessions").Return(3).Once()
	router := setupChatRouter(service, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":3}`, rec.Body.String())
	service.AssertExpectations(t)
}

func TestCheckToken(t *testing.T) {
	service := new(chatServiceMock)
	service.On("Authenticate", mock.Anything, "good").Return(auth.Identity{Username: "alice"}, nil).Once()
	service.On("Authenticate", mock.Anything, "bad").Return(nil, auth.ErrUnauthenticated).Once()
	router := setupChatRouter(service, nil)

	for token, valid := range map[string]bool{"good": true, "bad": false} {
		body := bytes.NewBufferString(`{"token":"` + token + `"}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/check-token", body))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]bool
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, valid, resp["valid"], token)
	}
	service.AssertExpectations(t)
}

func TestCheckTokenRejectsBadPayload(t *testing.T) {
	router := setupChatRouter(new(chatServiceMock), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/check-token", bytes.NewBufferString("{")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryRequiresBearerToken(t *testing.T) {
	service := new(chatServiceMock)
	identity := new(mocks.IdentityProviderMock)
	identity.On("Verify", mock.Anything, "bad").Return(nil, auth.ErrUnauthenticated).Once()
	router := setupChatRouter(service, identity)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	service.AssertNotCalled(t, "Recent", mock.Anything)
}

func TestHistoryReturnsMessages(t *testing.T) {
	service := new(chatServiceMock)
	identity := new(mocks.IdentityProviderMock)
	identity.On("Verify", mock.Anything, "good").Return(auth.Identity{Username: "alice"}, nil).Once()
	msg := models.Message{ID: "m1", User: "alice", RealUser: "alice", Text: "hi", Likes: []string{"bob"}}
	service.On("Recent", mock.Anything).Return([]models.Message{msg}).Once()
	router := setupChatRouter(service, identity)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, []string{"bob"}, resp.Messages[0].Likes)
	service.AssertExpectations(t)
	identity.AssertExpectations(t)
}

func TestDebugAuditRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything, map[string]string{"x-request-id": "req-1"}).Return(nil).Once()
	emitter := telemetry.NewAuditEmitter(pub, "audit.chat", "chat-relay", "test", zerolog.Nop())

	r := gin.New()
	RegisterDebugRoutes(r, emitter, true)
	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)

	disabled := gin.New()
	RegisterDebugRoutes(disabled, emitter, false)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
