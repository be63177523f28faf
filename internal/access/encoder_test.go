package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirchentech/ct-salto-sync/internal/churchtools"
)

func booking(id, resource int64, start, end time.Time, transponders ...int64) churchtools.Booking {
	return churchtools.Booking{
		ID:                    id,
		ResourceID:            resource,
		StartTime:             start,
		EndTime:               end,
		PermittedTransponders: transponders,
	}
}

func TestZoneListsRendersHoldWindow(t *testing.T) {
	t.Parallel()

	enc := &Encoder{
		Rooms:         map[int64]string{42: "MainHall"},
		Prehold:       10 * time.Minute,
		Posthold:      5 * time.Minute,
		SyncFrequency: time.Minute,
		Location:      time.UTC,
	}

	now := time.Date(2026, 8, 30, 13, 5, 0, 0, time.UTC)
	start := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

	got := enc.ZoneLists(now, []churchtools.Booking{booking(1, 42, start, end, 11)})

	// The window runs from 12:50 to 14:05.
	assert.Equal(t, map[int64]string{
		11: "MainHall;1;2026-08-30T12:50:00;2026-08-30T14:05:00",
	}, got)
}

func TestZoneListsWindowing(t *testing.T) {
	t.Parallel()

	enc := &Encoder{
		Rooms:         map[int64]string{42: "MainHall"},
		Prehold:       10 * time.Minute,
		Posthold:      5 * time.Minute,
		SyncFrequency: time.Minute,
		Location:      time.UTC,
	}

	now := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)

	t.Run("window already over", func(t *testing.T) {
		t.Parallel()
		start := now.Add(-2 * time.Hour)
		end := now.Add(-10 * time.Minute)
		got := enc.ZoneLists(now, []churchtools.Booking{booking(1, 42, start, end, 11)})
		assert.Empty(t, got)
	})

	t.Run("window just barely open", func(t *testing.T) {
		t.Parallel()
		start := now.Add(-2 * time.Hour)
		end := now.Add(-4 * time.Minute) // posthold keeps it open until now+1m
		got := enc.ZoneLists(now, []churchtools.Booking{booking(1, 42, start, end, 11)})
		assert.Len(t, got, 1)
	})

	t.Run("window too far in the future", func(t *testing.T) {
		t.Parallel()
		start := now.Add(time.Hour)
		end := now.Add(2 * time.Hour)
		got := enc.ZoneLists(now, []churchtools.Booking{booking(1, 42, start, end, 11)})
		assert.Empty(t, got)
	})

	t.Run("window opens before next cycle", func(t *testing.T) {
		t.Parallel()
		// Prehold plus sync frequency reach the start.
		start := now.Add(11 * time.Minute)
		end := now.Add(time.Hour)
		got := enc.ZoneLists(now, []churchtools.Booking{booking(1, 42, start, end, 11)})
		assert.Len(t, got, 1)
	})
}

func TestZoneListsMultipleBookingsPerTransponder(t *testing.T) {
	t.Parallel()

	enc := &Encoder{
		Rooms:    map[int64]string{42: "MainHall", 7: "Basement"},
		Location: time.UTC,
	}

	now := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	first := booking(1, 42, now.Add(-time.Hour), now.Add(time.Hour), 11, 22)
	second := booking(2, 7, now.Add(-30*time.Minute), now.Add(30*time.Minute), 11)

	got := enc.ZoneLists(now, []churchtools.Booking{first, second})

	require.Len(t, got, 2)
	// Records are sorted, so Basement precedes MainHall.
	assert.Equal(t,
		"Basement;1;2026-08-30T12:30:00;2026-08-30T13:30:00,MainHall;1;2026-08-30T12:00:00;2026-08-30T14:00:00",
		got[11])
	assert.Equal(t, "MainHall;1;2026-08-30T12:00:00;2026-08-30T14:00:00", got[22])
}

func TestZoneListsDeduplicatesIdenticalRecords(t *testing.T) {
	t.Parallel()

	enc := &Encoder{
		Rooms:    map[int64]string{42: "MainHall"},
		Location: time.UTC,
	}

	now := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)

	got := enc.ZoneLists(now, []churchtools.Booking{
		booking(1, 42, start, end, 11),
		booking(2, 42, start, end, 11),
	})

	assert.Equal(t, "MainHall;1;2026-08-30T12:00:00;2026-08-30T14:00:00", got[11])
}

func TestZoneListsSkipsUnmappedRooms(t *testing.T) {
	t.Parallel()

	enc := &Encoder{
		Rooms:    map[int64]string{42: "MainHall"},
		Location: time.UTC,
	}

	now := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	got := enc.ZoneLists(now, []churchtools.Booking{
		booking(1, 999, now.Add(-time.Hour), now.Add(time.Hour), 11),
	})

	assert.Empty(t, got)
}

func TestZoneListsRendersInConfiguredTimezone(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	enc := &Encoder{
		Rooms:    map[int64]string{42: "MainHall"},
		Location: berlin,
	}

	now := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	got := enc.ZoneLists(now, []churchtools.Booking{
		booking(1, 42, now.Add(-time.Hour), now.Add(time.Hour), 11),
	})

	// CEST is UTC+2 at the end of August.
	assert.Equal(t, "MainHall;1;2026-08-30T14:00:00;2026-08-30T16:00:00", got[11])
}

func TestZoneListsCustomTimetable(t *testing.T) {
	t.Parallel()

	enc := &Encoder{
		Rooms:     map[int64]string{42: "MainHall"},
		Timetable: 3,
		Location:  time.UTC,
	}

	now := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	got := enc.ZoneLists(now, []churchtools.Booking{
		booking(1, 42, now.Add(-time.Hour), now.Add(time.Hour), 11),
	})

	assert.Equal(t, "MainHall;3;2026-08-30T12:00:00;2026-08-30T14:00:00", got[11])
}

func TestMergeZoneLists(t *testing.T) {
	t.Parallel()

	hall := "MainHall;1;2026-08-30T12:00:00;2026-08-30T14:00:00"
	cellar := "Basement;1;2026-08-30T12:00:00;2026-08-30T14:00:00"

	t.Run("sorts and deduplicates across lists", func(t *testing.T) {
		t.Parallel()
		got := MergeZoneLists(hall, cellar+","+hall)
		assert.Equal(t, cellar+","+hall, got)
	})

	t.Run("ignores empty lists", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, hall, MergeZoneLists("", hall, ""))
		assert.Equal(t, "", MergeZoneLists())
	})
}
