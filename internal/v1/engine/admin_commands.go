package engine

import (
	"context"
	"time"

	"github.com/lairchat/server/internal/v1/apperr"
	"github.com/lairchat/server/internal/v1/events"
	"github.com/lairchat/server/internal/v1/storage"
	"github.com/lairchat/server/internal/v1/types"
)

// AdminStats is the aggregate snapshot served at GET /api/v1/admin/stats.
type AdminStats struct {
	Users        int `json:"users"`
	Rooms        int `json:"rooms"`
	LiveSessions int `json:"live_sessions"`
	OnlineUsers  int `json:"online_users"`
}

const statsPageSize = 500

// GetAdminStats returns aggregate counts. Admin only.
func (e *Engine) GetAdminStats(ctx context.Context, callerRole types.Role) (AdminStats, error) {
	if callerRole != types.RoleAdmin {
		return AdminStats{}, apperr.New(apperr.CodePermissionDenied, "admin role required")
	}

	var stats AdminStats

	userPage := types.Pagination{Limit: statsPageSize, Direction: types.PageForward}
	for {
		users, err := e.repos.Users.List(ctx, userPage)
		if err != nil {
			return AdminStats{}, apperr.Internal()
		}
		stats.Users += len(users)
		if len(users) < statsPageSize {
			break
		}
		last := users[len(users)-1]
		userPage.Cursor = &types.Cursor{Timestamp: last.CreatedAt, ID: string(last.ID)}
	}

	roomPage := types.Pagination{Limit: statsPageSize, Direction: types.PageForward}
	for {
		rooms, err := e.repos.Rooms.List(ctx, roomPage, storage.RoomFilter{})
		if err != nil {
			return AdminStats{}, apperr.Internal()
		}
		stats.Rooms += len(rooms)
		if len(rooms) < statsPageSize {
			break
		}
		last := rooms[len(rooms)-1]
		roomPage.Cursor = &types.Cursor{Timestamp: last.CreatedAt, ID: string(last.ID)}
	}

	stats.LiveSessions, stats.OnlineUsers = e.dispatcher.Counts()
	return stats, nil
}

// Broadcast sends a server_notice to every live session. Admin only.
func (e *Engine) Broadcast(ctx context.Context, callerRole types.Role, text string) error {
	if callerRole != types.RoleAdmin {
		return apperr.New(apperr.CodePermissionDenied, "admin role required")
	}
	e.dispatcher.Dispatch(ctx, events.Event{
		ID:           types.NewEventID(),
		Kind:         events.KindServerNotice,
		Timestamp:    time.Now().UTC(),
		Target:       events.AllLive(),
		ServerNotice: &events.ServerNotice{Text: text},
	})
	return nil
}
