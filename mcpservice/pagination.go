package mcpservice

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned for cursors not issued by this server.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

const cursorPrefix = "offset:"

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	s, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ErrInvalidCursor
	}
	return n, nil
}

// paginate slices all into a page starting at cursor. An empty next cursor
// marks the last page.
func paginate[T any](all []T, cursor string, pageSize int) (page []T, next string, err error) {
	start := 0
	if cursor != "" {
		if start, err = decodeCursor(cursor); err != nil {
			return nil, "", err
		}
		if start > len(all) {
			return nil, "", ErrInvalidCursor
		}
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	end := min(start+pageSize, len(all))
	page = append(make([]T, 0, end-start), all[start:end]...)
	if end < len(all) {
		next = encodeCursor(end)
	}
	return page, next, nil
}
