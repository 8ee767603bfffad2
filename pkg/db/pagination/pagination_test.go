package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysetTokenRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)
	got, err := ParseToken(Keyset{ID: 42, CreatedAt: at}.Token())
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.True(t, at.Equal(got.CreatedAt))
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm90LWpzb24=", Keyset{ID: 0, CreatedAt: time.Now()}.Token()} {
		_, err := ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestPage(t *testing.T) {
	type row struct{ id int64 }
	rows := []*row{{1}, {2}, {3}}
	key := func(r *row) Keyset { return Keyset{ID: r.id, CreatedAt: time.Unix(r.id, 0)} }

	page, info := Page(rows, 2, key)
	assert.Len(t, page, 2)
	assert.True(t, info.HasMore)
	next, err := ParseToken(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID)

	page, info = Page(rows, 3, key)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, 25, Pagination{}.Limit(25, 100))
	assert.Equal(t, 100, Pagination{PageSize: 500}.Limit(25, 100))
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit(25, 100))
}
