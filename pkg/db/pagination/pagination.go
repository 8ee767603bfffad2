// Package pagination implements opaque (created_at, id) keyset page tokens.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=25" validate:"gte=1,lte=250"`
}

// Limit clamps PageSize into [1, max], using def when unset.
func (p Pagination) Limit(def, max int) int {
	switch {
	case p.PageSize <= 0:
		return def
	case p.PageSize > max:
		return max
	default:
		return p.PageSize
	}
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// Keyset is the position after the last row of a page.
type Keyset struct {
	ID        int64
	CreatedAt time.Time
}

type wireCursor struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

func (k Keyset) Token() string {
	b, _ := json.Marshal(wireCursor{
		ID:        strconv.FormatInt(k.ID, 10),
		CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	return base64.URLEncoding.EncodeToString(b)
}

// ParseToken returns ErrInvalidToken for anything Keyset.Token did not produce.
func ParseToken(token string) (Keyset, error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Keyset{}, ErrInvalidToken
	}
	var wc wireCursor
	if err := json.Unmarshal(raw, &wc); err != nil {
		return Keyset{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(wc.ID, 10, 64)
	if err != nil || id <= 0 {
		return Keyset{}, ErrInvalidToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, wc.CreatedAt)
	if err != nil {
		return Keyset{}, ErrInvalidToken
	}
	return Keyset{ID: id, CreatedAt: createdAt}, nil
}

// Page trims rows fetched with limit+1 back to limit and reports whether a
// further page exists.
func Page[T any](rows []*T, limit int, key func(*T) Keyset) ([]*T, PageInfo) {
	if limit <= 0 || len(rows) <= limit {
		return rows, PageInfo{}
	}
	rows = rows[:limit]
	return rows, PageInfo{HasMore: true, NextPageToken: key(rows[limit-1]).Token()}
}
