package sync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirchentech/ct-salto-sync/internal/access"
	"github.com/kirchentech/ct-salto-sync/internal/churchtools"
	"github.com/kirchentech/ct-salto-sync/internal/staging"
)

type fakeBookings struct {
	bookings []churchtools.Booking
	err      error
}

func (f *fakeBookings) RelevantBookings(context.Context) ([]churchtools.Booking, error) {
	return f.bookings, f.err
}

type fakeDirectory struct {
	extIDs map[int64]string
	err    error
	asked  []int64
}

func (f *fakeDirectory) ExtIDsByTransponder(_ context.Context, transponders []int64) (map[int64]string, error) {
	f.asked = transponders
	return f.extIDs, f.err
}

type fakeStaging struct {
	entries []staging.Entry
	err     error
	calls   int
}

func (f *fakeStaging) Reconcile(_ context.Context, entries []staging.Entry) error {
	f.calls++
	f.entries = entries
	return f.err
}

func testEncoder() *access.Encoder {
	return &access.Encoder{
		Rooms:    map[int64]string{42: "MainHall"},
		Location: time.UTC,
	}
}

func activeBooking(transponders ...int64) churchtools.Booking {
	now := time.Now().UTC()
	return churchtools.Booking{
		ID:                    1,
		ResourceID:            42,
		StartTime:             now.Add(-time.Hour),
		EndTime:               now.Add(time.Hour),
		PermittedTransponders: transponders,
	}
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	bookings := &fakeBookings{bookings: []churchtools.Booking{activeBooking(11, 22, 33)}}
	directory := &fakeDirectory{extIDs: map[int64]string{11: "ext-11", 33: "ext-33"}}
	stagingWriter := &fakeStaging{}

	p := &Pipeline{
		Bookings:  bookings,
		Encoder:   testEncoder(),
		Directory: directory,
		Staging:   stagingWriter,
	}

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{11, 22, 33}, directory.asked)

	// Transponder 22 has no Salto user and is dropped.
	require.Len(t, stagingWriter.entries, 2)
	assert.Equal(t, "ext-11", stagingWriter.entries[0].ExtID)
	assert.Equal(t, "ext-33", stagingWriter.entries[1].ExtID)
	assert.Contains(t, stagingWriter.entries[0].ZoneList, "MainHall;1;")

	assert.Equal(t, Stats{Bookings: 1, Grants: 3, StagedEntries: 2}, stats)
}

func TestPipelineMergesEntriesForSharedExtID(t *testing.T) {
	t.Parallel()

	// One Salto user holding two transponders, each granted a different
	// room. The staging table keys on ExtId, so the user must end up with
	// a single entry carrying both grants.
	now := time.Now().UTC()
	hall := churchtools.Booking{
		ID:                    1,
		ResourceID:            42,
		StartTime:             now.Add(-time.Hour),
		EndTime:               now.Add(time.Hour),
		PermittedTransponders: []int64{11},
	}
	basement := churchtools.Booking{
		ID:                    2,
		ResourceID:            43,
		StartTime:             now.Add(-time.Hour),
		EndTime:               now.Add(time.Hour),
		PermittedTransponders: []int64{22, 33},
	}

	encoder := &access.Encoder{
		Rooms:    map[int64]string{42: "MainHall", 43: "Basement"},
		Location: time.UTC,
	}
	directory := &fakeDirectory{extIDs: map[int64]string{
		11: "ext-1",
		22: "ext-1",
		33: "ext-3",
	}}
	stagingWriter := &fakeStaging{}

	p := &Pipeline{
		Bookings:  &fakeBookings{bookings: []churchtools.Booking{hall, basement}},
		Encoder:   encoder,
		Directory: directory,
		Staging:   stagingWriter,
	}

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, stagingWriter.entries, 2)
	merged := stagingWriter.entries[0]
	assert.Equal(t, "ext-1", merged.ExtID)
	assert.Contains(t, merged.ZoneList, "MainHall;1;")
	assert.Contains(t, merged.ZoneList, "Basement;1;")
	// Records in a merged list stay sorted.
	assert.Less(t,
		strings.Index(merged.ZoneList, "Basement"),
		strings.Index(merged.ZoneList, "MainHall"),
	)

	assert.Equal(t, "ext-3", stagingWriter.entries[1].ExtID)
	assert.Equal(t, Stats{Bookings: 2, Grants: 3, StagedEntries: 2}, stats)
}

func TestPipelineEmptyBookingsStillReconciles(t *testing.T) {
	t.Parallel()

	stagingWriter := &fakeStaging{}
	p := &Pipeline{
		Bookings:  &fakeBookings{},
		Encoder:   testEncoder(),
		Directory: &fakeDirectory{},
		Staging:   stagingWriter,
	}

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	// An empty desired set must still reach the reconciler so stale rows
	// get blanked.
	assert.Equal(t, 1, stagingWriter.calls)
	assert.Empty(t, stagingWriter.entries)
	assert.Equal(t, Stats{}, stats)
}

func TestPipelineFailurePropagation(t *testing.T) {
	t.Parallel()

	upstream := errors.New("upstream down")

	t.Run("bookings fetch", func(t *testing.T) {
		t.Parallel()
		p := &Pipeline{
			Bookings:  &fakeBookings{err: upstream},
			Encoder:   testEncoder(),
			Directory: &fakeDirectory{},
			Staging:   &fakeStaging{},
		}
		_, err := p.Run(context.Background())
		assert.ErrorIs(t, err, upstream)
	})

	t.Run("directory resolve", func(t *testing.T) {
		t.Parallel()
		p := &Pipeline{
			Bookings:  &fakeBookings{bookings: []churchtools.Booking{activeBooking(11)}},
			Encoder:   testEncoder(),
			Directory: &fakeDirectory{err: upstream},
			Staging:   &fakeStaging{},
		}
		_, err := p.Run(context.Background())
		assert.ErrorIs(t, err, upstream)
	})

	t.Run("staging reconcile", func(t *testing.T) {
		t.Parallel()
		p := &Pipeline{
			Bookings:  &fakeBookings{},
			Encoder:   testEncoder(),
			Directory: &fakeDirectory{},
			Staging:   &fakeStaging{err: upstream},
		}
		_, err := p.Run(context.Background())
		assert.ErrorIs(t, err, upstream)
	})
}
