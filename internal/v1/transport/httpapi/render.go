package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/domain"
	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/logging"
	"github.com/lairchat/server/internal/v1/types"
)

const callerKey = "httpapi.caller"

// requireAuth extracts the bearer token, validates it against the session
// store, and stores the engine.Caller on the request context. The caller
// context, never a body field, is the effective identity of every command.
func requireAuth(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			fail(c, apperr.New(apperr.CodeSessionNotFound, "missing bearer token"))
			c.Abort()
			return
		}
		caller, err := eng.Authenticate(c.Request.Context(), token)
		if err != nil {
			fail(c, err)
			c.Abort()
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerOf(c *gin.Context) engine.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(engine.Caller)
	return caller
}

// fail writes the standard error envelope {error:{code,message}} with the
// status from the error taxonomy. Non-business errors are collapsed to
// internal_error; their cause goes to the log with the correlation id, never
// to the body.
func fail(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		logging.Error(c.Request.Context(), "unhandled adapter error", zap.Error(err))
		appErr = apperr.Internal()
	}
	if appErr.Code == apperr.CodeRateLimited && appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	c.JSON(appErr.HTTPStatus(), gin.H{
		"error": gin.H{"code": string(appErr.Code), "message": appErr.Message},
	})
}

func badBody(c *gin.Context) {
	fail(c, apperr.New(apperr.CodeContentEmpty, "malformed request body"))
}

// pageFromQuery reads ?cursor_timestamp, ?cursor_id, ?limit, ?direction.
func pageFromQuery(c *gin.Context) types.Pagination {
	const defaultLimit = 50
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = defaultLimit
	}
	dir := types.PageForward
	if c.Query("direction") == string(types.PageBackward) {
		dir = types.PageBackward
	}
	var cursor *types.Cursor
	if tsRaw, id := c.Query("cursor_timestamp"), c.Query("cursor_id"); tsRaw != "" && id != "" {
		if ts, err := time.Parse(time.RFC3339Nano, tsRaw); err == nil {
			cursor = &types.Cursor{Timestamp: ts, ID: id}
		}
	}
	return types.Pagination{Cursor: cursor, Limit: limit, Direction: dir}
}

type userBody struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	Role     string    `json:"role"`
	LastSeen time.Time `json:"last_seen"`
}

func renderUser(u domain.User) userBody {
	return userBody{ID: string(u.ID), Username: string(u.Username), Email: string(u.Email), Role: string(u.Role), LastSeen: u.LastSeen}
}

// renderPublicUser omits the email: only the owner sees their own address.
func renderPublicUser(u domain.User) userBody {
	b := renderUser(u)
	b.Email = ""
	return b
}

type roomBody struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	Private     bool      `json:"private"`
	MaxMembers  *int      `json:"max_members,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func renderRoom(r domain.Room) roomBody {
	return roomBody{
		ID: string(r.ID), Name: string(r.Name), Description: r.Description,
		OwnerID: string(r.OwnerID), Private: r.Private, MaxMembers: r.MaxMembers,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type targetBody struct {
	Room string `json:"room,omitempty"`
	User string `json:"user,omitempty"`
}

func renderTarget(t types.MessageTarget) targetBody {
	if t.IsRoom() {
		return targetBody{Room: string(t.RoomID)}
	}
	return targetBody{User: string(t.PeerUserID)}
}

type messageBody struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"author_id"`
	Target    targetBody `json:"target"`
	Content   string     `json:"content"`
	Edited    bool       `json:"edited"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func renderMessage(m domain.Message) messageBody {
	return messageBody{
		ID: string(m.ID), AuthorID: string(m.AuthorID), Target: renderTarget(m.Target),
		Content: string(m.Content), Edited: m.Edited, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

type membershipBody struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func renderMembership(m domain.RoomMembership) membershipBody {
	return membershipBody{RoomID: string(m.RoomID), UserID: string(m.UserID), Role: string(m.Role), JoinedAt: m.JoinedAt}
}

type invitationBody struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	InviterID   string     `json:"inviter_id"`
	InviteeID   string     `json:"invitee_id"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

func renderInvitation(i domain.Invitation) invitationBody {
	return invitationBody{
		ID: string(i.ID), RoomID: string(i.RoomID), InviterID: string(i.InviterID),
		InviteeID: string(i.InviteeID), Status: string(i.Status), Message: i.Message,
		CreatedAt: i.CreatedAt, RespondedAt: i.RespondedAt, ExpiresAt: i.ExpiresAt,
	}
}

type authResponse struct {
	User    userBody        `json:"user"`
	Session sessionResponse `json:"session"`
	Token   string          `json:"token"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func renderAuthResult(res engine.AuthResult) authResponse {
	return authResponse{
		User:    renderUser(res.User),
		Session: sessionResponse{ID: string(res.Session.ID), ExpiresAt: res.Session.ExpiresAt},
		Token:   res.Token,
	}
}

func ok(c *gin.Context, payload any)      { c.JSON(http.StatusOK, payload) }
func created(c *gin.Context, payload any) { c.JSON(http.StatusCreated, payload) }
