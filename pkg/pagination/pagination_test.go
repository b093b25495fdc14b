package pagination

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
)

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 789, time.FixedZone("x", 3600)), ID: uuid.New()}
	token := EncodeCursor(in)
	assert.False(t, strings.ContainsAny(token, "+/="), token)

	out, err := ParseCursor(token)
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)

	none, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"%%%", encodeRaw("no-separator"), encodeRaw("yesterday|" + uuid.NewString()), encodeRaw(time.Now().Format(time.RFC3339Nano) + "|nope")} {
		_, err := ParseCursor(raw)
		assert.True(t, pkgerrors.IsValidation(err), "cursor %q: %v", raw, err)
	}
}

func TestTrimReturnsNextCursorOnlyWhenMoreRows(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 4)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	identity := func(c Cursor) Cursor { return c }

	page, next := Trim(rows, 3, identity)
	require.Len(t, page, 3)
	require.NotEmpty(t, next)
	parsed, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[2].ID, parsed.ID)

	page, next = Trim(rows[:3], 3, identity)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

func encodeRaw(payload string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}
