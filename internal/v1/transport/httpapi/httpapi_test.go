package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lairchat/server/internal/v1/auth"
	"github.com/lairchat/server/internal/v1/config"
	"github.com/lairchat/server/internal/v1/dispatcher"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/health"
	"github.com/lairchat/server/internal/v1/ratelimit"
	"github.com/lairchat/server/internal/v1/sessionmgr"
	"github.com/lairchat/server/internal/v1/storage/memory"
	"github.com/lairchat/server/internal/v1/transport/command"
	"github.com/lairchat/server/internal/v1/types"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	repos := store.Repositories()
	validator, err := auth.NewValidator("httpapi-test-secret-long-enough", "httpapi-test")
	require.NoError(t, err)
	mgr := sessionmgr.New(repos.Sessions)
	disp := dispatcher.New(repos.Memberships)
	eng := engine.New(repos, validator, mgr, disp)

	limiter, err := ratelimit.NewRateLimiter(&config.Config{
		RateLimitAuth:      "10-M",
		RateLimitMessaging: "30-M",
		RateLimitGeneral:   "100-M",
	}, nil)
	require.NoError(t, err)

	return NewRouter(Deps{
		Engine:   eng,
		Commands: &command.Router{Engine: eng, Sessions: mgr, Protocol: types.ProtocolWebSocket},
		Limiter:  limiter,
		Health:   health.NewHandler(nil, nil),
	})
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
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
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	return body.Error.Code
}

func registerUser(t *testing.T, router *gin.Engine, username string) (token, userID string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "P@ssword123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body authResponse
	decode(t, rec, &body)
	return body.Token, body.User.ID
}

func TestRegisterLoginCreateRoomSendMessage(t *testing.T) {
	router := newTestServer(t)

	token1, _ := registerUser(t, router, "alice")
	require.NotEmpty(t, token1)

	// Login matches the identifier case-insensitively and issues a fresh
	// session with a distinct token.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"identifier": "ALICE",
		"password":   "P@ssword123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login authResponse
	decode(t, rec, &login)
	require.NotEmpty(t, login.Token)
	require.NotEqual(t, token1, login.Token)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/rooms", login.Token, map[string]any{"name": "general"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var room roomBody
	decode(t, rec, &room)
	require.NotEmpty(t, room.ID)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/messages", login.Token, map[string]any{
		"target":  map[string]string{"room": room.ID},
		"content": "hi",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/v1/messages?target.room="+room.ID, login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var msgs struct {
		Messages []messageBody `json:"messages"`
	}
	decode(t, rec, &msgs)
	require.Len(t, msgs.Messages, 1)
	require.Equal(t, "hi", msgs.Messages[0].Content)
}

func TestLoginWrongPassword(t *testing.T) {
	router := newTestServer(t)
	registerUser(t, router, "bob")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"identifier": "bob",
		"password":   "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_credentials", errorCode(t, rec))
}

func TestMissingBearerToken(t *testing.T) {
	router := newTestServer(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/users/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "session_not_found", errorCode(t, rec))
}

func TestDuplicateRegistrationCaseVariants(t *testing.T) {
	router := newTestServer(t)
	registerUser(t, router, "carol")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "CAROL",
		"email":    "other@example.com",
		"password": "P@ssword123",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "username_taken", errorCode(t, rec))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "carol2",
		"email":    "CAROL@example.com",
		"password": "P@ssword123",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "email_taken", errorCode(t, rec))
}

func TestAuthRateLimit(t *testing.T) {
	router := newTestServer(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		last = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"identifier": fmt.Sprintf("ghost%d", i),
			"password":   "whatever123",
		})
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	require.Equal(t, "rate_limited", errorCode(t, last))
	require.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestAdminStatsForbiddenForRegularUser(t *testing.T) {
	router := newTestServer(t)
	token, _ := registerUser(t, router, "dave")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/admin/stats", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "permission_denied", errorCode(t, rec))
}

func TestLastOwnerLeaveThenDelete(t *testing.T) {
	router := newTestServer(t)
	aliceToken, _ := registerUser(t, router, "erin")
	bobToken, _ := registerUser(t, router, "frank")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/rooms", aliceToken, map[string]any{"name": "shared"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var room roomBody
	decode(t, rec, &room)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/rooms/"+room.ID+"/join", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/v1/rooms/"+room.ID+"/leave", aliceToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "last_owner", errorCode(t, rec))

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/rooms/"+room.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/v1/rooms/"+room.ID, aliceToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvitationFlow(t *testing.T) {
	router := newTestServer(t)
	aliceToken, _ := registerUser(t, router, "grace")
	bobToken, bobID := registerUser(t, router, "henry")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/rooms", aliceToken, map[string]any{
		"name": "private-room", "private": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var room roomBody
	decode(t, rec, &room)

	// Private room: joining without an invitation is rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/rooms/"+room.ID+"/join", bobToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "room_private", errorCode(t, rec))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/invitations", aliceToken, map[string]string{
		"room": room.ID, "invitee": bobID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inv invitationBody
	decode(t, rec, &inv)
	require.Equal(t, "pending", inv.Status)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/invitations/"+inv.ID+"/accept", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A second accept hits the atomic status transition and fails.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/invitations/"+inv.ID+"/accept", bobToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "invitation_used", errorCode(t, rec))

	rec = doJSON(t, router, http.MethodGet, "/api/v1/rooms/"+room.ID+"/members", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members struct {
		Members []membershipBody `json:"members"`
	}
	decode(t, rec, &members)
	require.Len(t, members.Members, 2)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestServer(t)
	for _, path := range []string{"/health", "/api/v1/health", "/metrics"} {
		rec := doJSON(t, router, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestDirectMessageTwoWayExchange(t *testing.T) {
	router := newTestServer(t)
	aliceToken, aliceID := registerUser(t, router, "ivy")
	bobToken, bobID := registerUser(t, router, "jack")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/messages", aliceToken, map[string]any{
		"target":  map[string]string{"user": bobID},
		"content": "hi jack",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/v1/messages", bobToken, map[string]any{
		"target":  map[string]string{"user": aliceID},
		"content": "hi ivy",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Both participants read the same two-message thread, newest first.
	for _, q := range []struct{ token, peer string }{
		{aliceToken, bobID},
		{bobToken, aliceID},
	} {
		rec = doJSON(t, router, http.MethodGet, "/api/v1/messages?target.user="+q.peer, q.token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var msgs struct {
			Messages []messageBody `json:"messages"`
		}
		decode(t, rec, &msgs)
		require.Len(t, msgs.Messages, 2)
		require.Equal(t, "hi ivy", msgs.Messages[0].Content)
		require.Equal(t, "hi jack", msgs.Messages[1].Content)
	}
}
