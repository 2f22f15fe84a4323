package command

import (
	"time"

	"github.com/lairchat/server/internal/v1/types"
)

// paginationPayload is the wire shape of a cursor: all fields optional,
// defaulting to a fresh first page.
type paginationPayload struct {
	CursorTimestamp *time.Time `json:"cursor_timestamp,omitempty"`
	CursorID        string     `json:"cursor_id,omitempty"`
	Limit           int        `json:"limit,omitempty"`
	Direction       string     `json:"direction,omitempty"`
}

const defaultPageLimit = 50

func (p paginationPayload) toPagination() types.Pagination {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	dir := types.PageForward
	if p.Direction == string(types.PageBackward) {
		dir = types.PageBackward
	}
	var cursor *types.Cursor
	if p.CursorTimestamp != nil && p.CursorID != "" {
		cursor = &types.Cursor{Timestamp: *p.CursorTimestamp, ID: p.CursorID}
	}
	return types.Pagination{Cursor: cursor, Limit: limit, Direction: dir}
}
