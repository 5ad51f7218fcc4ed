package connection

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

func TestPickConnectionNone(t *testing.T) {
	t.Parallel()

	_, err := pickConnection(slog.Default(), channel.PlatformMessenger, "page-1", nil)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestPickConnectionSingle(t *testing.T) {
	t.Parallel()

	row := resolvedRow{conn: Connection{ID: "c1"}}
	got, err := pickConnection(slog.Default(), channel.PlatformMessenger, "page-1", []resolvedRow{row})
	require.NoError(t, err)
	assert.Equal(t, "c1", got.conn.ID)
}

func TestPickConnectionDuplicatesNewestWins(t *testing.T) {
	t.Parallel()

	now := time.Now()
	// candidates arrive newest-first from the query's ORDER BY
	rows := []resolvedRow{
		{conn: Connection{ID: "newer", CreatedAt: now}},
		{conn: Connection{ID: "older", CreatedAt: now.Add(-time.Hour)}},
	}
	got, err := pickConnection(slog.Default(), channel.PlatformMessenger, "page-1", rows)
	require.NoError(t, err)
	assert.Equal(t, "newer", got.conn.ID)
}

func TestBusinessHoursDisabledAlwaysMatches(t *testing.T) {
	t.Parallel()

	b := BusinessHours{Enabled: false}
	assert.True(t, b.Within(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)))
}

func TestBusinessHoursDayWindow(t *testing.T) {
	t.Parallel()

	b := BusinessHours{Enabled: true, Start: "09:00", End: "18:00", Timezone: "UTC"}

	assert.True(t, b.Within(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)))
	assert.True(t, b.Within(time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)))
	assert.False(t, b.Within(time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)))
	assert.False(t, b.Within(time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)))
}

func TestBusinessHoursOvernightWindow(t *testing.T) {
	t.Parallel()

	b := BusinessHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "UTC"}

	assert.True(t, b.Within(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, b.Within(time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)))
	assert.False(t, b.Within(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestBusinessHoursTimezone(t *testing.T) {
	t.Parallel()

	b := BusinessHours{Enabled: true, Start: "09:00", End: "17:00", Timezone: "Africa/Cairo"}

	// 07:00 UTC is 09:00 or 10:00 in Cairo depending on DST; both inside.
	assert.True(t, b.Within(time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)))
	// 23:00 UTC is outside any Cairo offset of the window.
	assert.False(t, b.Within(time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)))
}

func TestBusinessHoursBadConfigFailsOpen(t *testing.T) {
	t.Parallel()

	b := BusinessHours{Enabled: true, Start: "soon", End: "later", Timezone: "Mars/Olympus"}
	assert.True(t, b.Within(time.Now()))
}
