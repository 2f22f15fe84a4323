package postgres

import (
	"fmt"

	"github.com/lairchat/server/internal/v1/types"
)

const defaultPageLimit = 50

// cursorCond renders the keyset-pagination condition over a
// (timestamp, id) cursor. Forward walks toward larger keys, backward toward
// smaller; call sites pick the matching ORDER BY.
func cursorCond(dir types.PageDirection, tsCol, idCol string, firstArg int) string {
	op := ">"
	if dir == types.PageBackward {
		op = "<"
	}
	return fmt.Sprintf("(%s, %s) %s ($%d, $%d)", tsCol, idCol, op, firstArg, firstArg+1)
}

func pageLimit(p types.Pagination) int {
	if p.Limit <= 0 {
		return defaultPageLimit
	}
	return p.Limit
}
