package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrInvalidCursor = errors.New("invalid cursor format")

// Cursor is a keyset position: the creation time and id of the last item
// on the previous page.
type Cursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Encode returns the URL-safe form of c.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(Cursor{ID: c.ID, CreatedAt: c.CreatedAt.UTC()})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses an encoded cursor. An empty string means the first page.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" || c.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// Limit clamps a requested page size to (0, MaxLimit], using DefaultLimit
// for anything out of range.
func Limit(n int) int {
	if n <= 0 || n > MaxLimit {
		return DefaultLimit
	}
	return n
}

// Page trims items fetched with limit+1 down to limit and builds the cursor
// for the next page from the last kept item.
func Page[T any](items []T, limit int, key func(T) Cursor) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	return items, key(items[limit-1]).Encode(), true
}
