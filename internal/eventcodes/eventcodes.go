// Package eventcodes translates event product codes into event ids.
package eventcodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/willibrandon/eventimport/internal/importer"
	"github.com/willibrandon/eventimport/internal/logger"
)

var (
	ErrNoCodes     = errors.New("no event codes specified")
	ErrUnknownCode = errors.New("invalid event code")
	ErrInvalidID   = errors.New("event id is not numeric")
)

// Lookup resolves each code with query and returns the ids joined by commas,
// ready to be spliced into an "in (...)" list. The query's alias parameters
// are substituted from params without SCN pinning and the code is bound as
// :1. Any code without a row fails the whole lookup.
func Lookup(ctx context.Context, conn importer.Conn, query string, params map[string]string, codes []string) (string, error) {
	if len(codes) == 0 {
		return "", ErrNoCodes
	}
	stmt := importer.Substitute(query, params)

	ids := make([]string, 0, len(codes))
	for _, code := range codes {
		id, err := lookupOne(ctx, conn, stmt, code)
		if err != nil {
			return "", err
		}
		logger.Debug("Resolved event code", "code", code, "eventid", id)
		ids = append(ids, id)
	}
	return strings.Join(ids, ","), nil
}

func lookupOne(ctx context.Context, conn importer.Conn, stmt, code string) (string, error) {
	rows, err := conn.Query(ctx, stmt, code)
	if err != nil {
		return "", fmt.Errorf("look up event code %s: %w", code, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("look up event code %s: %w", code, err)
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownCode, code)
	}

	var id string
	if err := rows.Scan(&id); err != nil {
		return "", fmt.Errorf("scan event id for %s: %w", code, err)
	}
	id = strings.TrimSpace(id)
	if !isNumeric(id) {
		return "", fmt.Errorf("%w: %q for code %s", ErrInvalidID, id, code)
	}
	return id, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
