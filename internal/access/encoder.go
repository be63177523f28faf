// Package access turns resolved bookings into the per-user access zone lists
// the Salto staging table expects.
package access

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kirchentech/ct-salto-sync/internal/churchtools"
)

// DefaultTimetableID is the Salto timetable used for all staged records. Time
// restrictions are encoded in the from/until bounds, not in timetables.
const DefaultTimetableID = 1

// recordLayout is how Salto expects bare local timestamps.
const recordLayout = "2006-01-02T15:04:05"

// Encoder renders bookings into Salto access zone lists.
type Encoder struct {
	// Rooms maps ChurchTools resource ids to Salto access zones.
	Rooms map[int64]string

	// Prehold widens each access window before the booking starts.
	Prehold time.Duration

	// Posthold widens each access window after the booking ends.
	Posthold time.Duration

	// SyncFrequency widens the inclusion check into the future so a
	// window opening before the next cycle is already staged now.
	SyncFrequency time.Duration

	// Timetable is the Salto timetable id for all records. Defaults to
	// DefaultTimetableID.
	Timetable int

	// Location is the timezone the bare record timestamps are rendered
	// in. Defaults to the process-local zone.
	Location *time.Location
}

// ZoneLists renders all bookings active at now (hold times included) into a
// zone list per permitted transponder. Records are sorted and deduplicated so
// equal input always renders the same string.
func (e *Encoder) ZoneLists(now time.Time, bookings []churchtools.Booking) map[int64]string {
	timetable := e.Timetable
	if timetable == 0 {
		timetable = DefaultTimetableID
	}
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}

	records := make(map[int64][]string)
	for _, booking := range bookings {
		from := booking.StartTime.Add(-e.Prehold)
		until := booking.EndTime.Add(e.Posthold)

		// Skip windows already over and windows not opening before the
		// next cycle runs.
		if now.After(until) || now.Add(e.SyncFrequency).Before(from) {
			continue
		}

		zone, ok := e.Rooms[booking.ResourceID]
		if !ok {
			slog.Warn("Booking references an unmapped room, skipping",
				"booking_id", booking.ID,
				"resource_id", booking.ResourceID,
			)
			continue
		}

		record := fmt.Sprintf("%s;%d;%s;%s",
			zone,
			timetable,
			from.In(loc).Format(recordLayout),
			until.In(loc).Format(recordLayout),
		)
		for _, transponder := range booking.PermittedTransponders {
			records[transponder] = append(records[transponder], record)
		}
	}

	zoneLists := make(map[int64]string, len(records))
	for transponder, recs := range records {
		zoneLists[transponder] = joinRecords(recs)
	}
	return zoneLists
}

// MergeZoneLists combines zone lists into one. Needed when several
// transponders resolve to the same Salto user, which may hold at most one
// staging row. The result is sorted and deduplicated like ZoneLists output.
func MergeZoneLists(lists ...string) string {
	var records []string
	for _, list := range lists {
		if list == "" {
			continue
		}
		records = append(records, strings.Split(list, ",")...)
	}
	return joinRecords(records)
}

func joinRecords(records []string) string {
	slices.Sort(records)
	return strings.Join(slices.Compact(records), ",")
}
