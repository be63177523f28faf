package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kirchentech/ct-salto-sync/internal/access"
	"github.com/kirchentech/ct-salto-sync/internal/churchtools"
	"github.com/kirchentech/ct-salto-sync/internal/staging"
)

// BookingSource fetches the bookings that may be active now or soon.
type BookingSource interface {
	RelevantBookings(ctx context.Context) ([]churchtools.Booking, error)
}

// Directory maps transponder ids to external identities.
type Directory interface {
	ExtIDsByTransponder(ctx context.Context, transponders []int64) (map[int64]string, error)
}

// StagingWriter reconciles the staging table against a desired entry set.
type StagingWriter interface {
	Reconcile(ctx context.Context, entries []staging.Entry) error
}

// Pipeline is one full reconciliation cycle: fetch bookings, encode zone
// lists, resolve external identities, and write the staging table.
type Pipeline struct {
	Bookings  BookingSource
	Encoder   *access.Encoder
	Directory Directory
	Staging   StagingWriter
}

// Run executes the pipeline once.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	bookings, err := p.Bookings.RelevantBookings(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to fetch bookings: %w", err)
	}

	zoneLists := p.Encoder.ZoneLists(time.Now().UTC(), bookings)

	transponders := make([]int64, 0, len(zoneLists))
	for transponder := range zoneLists {
		transponders = append(transponders, transponder)
	}
	slices.Sort(transponders)

	extIDs, err := p.Directory.ExtIDsByTransponder(ctx, transponders)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to resolve external ids: %w", err)
	}

	// A Salto user may hold several transponders but at most one staging
	// row, so grants arriving via different transponders merge per ExtId.
	entries := make([]staging.Entry, 0, len(transponders))
	entryIndex := make(map[string]int, len(transponders))
	for _, transponder := range transponders {
		extID, ok := extIDs[transponder]
		if !ok {
			// A transponder unknown to Salto cannot receive a
			// staging row.
			slog.Warn("Transponder has no Salto user, dropping its grants",
				"transponder_id", transponder,
			)
			continue
		}
		if i, seen := entryIndex[extID]; seen {
			entries[i].ZoneList = access.MergeZoneLists(entries[i].ZoneList, zoneLists[transponder])
			continue
		}
		entryIndex[extID] = len(entries)
		entries = append(entries, staging.Entry{
			ExtID:    extID,
			ZoneList: zoneLists[transponder],
		})
	}

	if err := p.Staging.Reconcile(ctx, entries); err != nil {
		return Stats{}, fmt.Errorf("failed to reconcile staging table: %w", err)
	}

	return Stats{
		Bookings:      len(bookings),
		Grants:        len(zoneLists),
		StagedEntries: len(entries),
	}, nil
}
