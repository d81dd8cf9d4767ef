package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/willibrandon/eventimport/internal/models"
)

// Capture reads the source's current SCN through link. The token is read
// once per run; every later read of the source is pinned to it.
func Capture(ctx context.Context, conn Conn, link string) (models.ConsistencyToken, error) {
	query := fmt.Sprintf("select to_char(current_scn) from v$database@%s", link)

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%w: read current scn: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("%w: read current scn: %v", ErrSourceUnavailable, err)
		}
		return 0, fmt.Errorf("%w: v$database@%s returned no rows", ErrSourceUnavailable, link)
	}

	var raw string
	if err := rows.Scan(&raw); err != nil {
		return 0, fmt.Errorf("%w: scan current scn: %v", ErrSourceUnavailable, err)
	}

	scn, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse current scn %q: %v", ErrSourceUnavailable, raw, err)
	}
	if scn == 0 {
		return 0, fmt.Errorf("%w: source reported scn 0", ErrSourceUnavailable)
	}

	return models.ConsistencyToken(scn), nil
}
