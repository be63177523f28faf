package churchtools

import (
	"context"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Booking is a resource booking with the transponders permitted to use it.
type Booking struct {
	ID                    int64
	ResourceID            int64
	StartTime             time.Time
	EndTime               time.Time
	PermittedTransponders []int64
}

type bookingsResponse struct {
	Data []bookingRecord `json:"data"`
}

type bookingRecord struct {
	Base       bookingBase `json:"base"`
	Calculated timeframe   `json:"calculated"`
}

type bookingBase struct {
	ID         int64           `json:"id"`
	ResourceID int64           `json:"resourceId"`
	// Appointment links the booking to the calendar entry it was created
	// from. The calendar entry's times take precedence over the booking's.
	Appointment *appointmentRef `json:"appointment"`
	// Description is the booking note. It carries the group grant tokens.
	Description string      `json:"description"`
	Meta        bookingMeta `json:"meta"`
}

type bookingMeta struct {
	CreatedPerson personRef `json:"createdPerson"`
}

type personRef struct {
	ID int64 `json:"id"`
}

type appointmentRef struct {
	ID         int64 `json:"id"`
	CalendarID int64 `json:"calendarId"`
}

type timeframe struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// ResolverConfig configures a booking Resolver.
type ResolverConfig struct {
	// GroupMagicPrefix marks group grant tokens in booking notes.
	GroupMagicPrefix string

	// StatusIDs filters bookings by status.
	StatusIDs []int

	// ResourceIDs are the rooms to query bookings for.
	ResourceIDs []int64

	// Lookbehind extends the query window into the past so bookings whose
	// posthold still reaches into the present are included.
	Lookbehind time.Duration

	// Lookahead extends the query window into the future so bookings whose
	// prehold already reaches into the present are included.
	Lookahead time.Duration
}

// Resolver fetches resource bookings and resolves the transponders permitted
// to use each one.
type Resolver struct {
	client *Client
	cfg    ResolverConfig
}

// NewResolver creates a booking resolver using the given client.
func NewResolver(client *Client, cfg ResolverConfig) *Resolver {
	return &Resolver{client: client, cfg: cfg}
}

// RelevantBookings fetches all bookings that may be active now or soon,
// resolved to their effective timeframe and permitted transponders. The query
// window may include too many bookings; callers filter by hold times.
func (r *Resolver) RelevantBookings(ctx context.Context) ([]Booking, error) {
	raw, err := r.rawBookings(ctx)
	if err != nil {
		return nil, err
	}

	bookings := make([]Booking, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range raw {
		g.Go(func() error {
			booking, err := r.resolveBooking(gctx, rec)
			if err != nil {
				return err
			}
			bookings[i] = booking
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return bookings, nil
}

func (r *Resolver) rawBookings(ctx context.Context) ([]bookingRecord, error) {
	now := time.Now().UTC()
	// The query window is in whole days. The far edge adds one extra day
	// because ChurchTools may switch to right-exclusive intervals.
	from := now.Add(-r.cfg.Lookbehind).Format(time.DateOnly)
	to := now.Add(r.cfg.Lookahead + 24*time.Hour).Format(time.DateOnly)

	query := url.Values{}
	for _, id := range r.cfg.ResourceIDs {
		query.Add("resource_ids[]", strconv.FormatInt(id, 10))
	}
	query.Set("from", from)
	query.Set("to", to)
	for _, id := range r.cfg.StatusIDs {
		query.Add("status_ids[]", strconv.Itoa(id))
	}

	var resp bookingsResponse
	if err := r.client.getJSON(ctx, "/api/bookings", query, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// resolveBooking turns a raw booking record into a Booking with its effective
// timeframe and permitted transponders.
func (r *Resolver) resolveBooking(ctx context.Context, rec bookingRecord) (Booking, error) {
	frame := rec.Calculated
	if ref := rec.Base.Appointment; ref != nil {
		// Bookings created from a calendar entry show the entry's time,
		// not the booking's own.
		day, _, _ := strings.Cut(rec.Calculated.StartDate, "T")
		var err error
		frame, err = r.client.Appointment(ctx, ref.CalendarID, ref.ID, day)
		if err != nil {
			return Booking{}, err
		}
	}

	start, err := parseTime(frame.StartDate, false)
	if err != nil {
		return Booking{}, err
	}
	end, err := parseTime(frame.EndDate, true)
	if err != nil {
		return Booking{}, err
	}

	groups := groupsFromDescription(rec.Base.Description, r.cfg.GroupMagicPrefix)
	transponders, err := r.permittedTransponders(ctx, rec.Base.Meta.CreatedPerson.ID, groups)
	if err != nil {
		return Booking{}, err
	}

	return Booking{
		ID:                    rec.Base.ID,
		ResourceID:            rec.Base.ResourceID,
		StartTime:             start,
		EndTime:               end,
		PermittedTransponders: transponders,
	}, nil
}

// permittedTransponders collects the transponder ids of all members of the
// given groups plus the booking creator's, deduplicated and sorted.
func (r *Resolver) permittedTransponders(ctx context.Context, creatorID int64, groups []int64) ([]int64, error) {
	perGroup := make([][]int64, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, groupID := range groups {
		g.Go(func() error {
			ids, err := r.client.GroupTransponderIDs(gctx, groupID)
			if err != nil {
				return err
			}
			perGroup[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var transponders []int64
	for _, ids := range perGroup {
		transponders = append(transponders, ids...)
	}

	creatorTransponder, err := r.client.PersonTransponderID(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if creatorTransponder != nil {
		transponders = append(transponders, *creatorTransponder)
	}

	slices.Sort(transponders)
	return slices.Compact(transponders), nil
}

// groupsFromDescription finds all whitespace-separated "<prefix><group-id>"
// tokens in a booking note and parses out the group ids. Tokens that do not
// parse as an id are ignored.
func groupsFromDescription(description, magicPrefix string) []int64 {
	var groups []int64
	for _, word := range strings.Fields(description) {
		rest, ok := strings.CutPrefix(word, magicPrefix)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			continue
		}
		groups = append(groups, id)
	}
	return groups
}

// parseTime parses a ChurchTools timestamp. Timestamps are RFC 3339, except
// for all-day events which come as a bare date. All-day events cover their
// whole day, so the date expands to start of day for start timestamps and to
// end of day for end timestamps. Bare dates are interpreted as UTC, matching
// what ChurchTools returns for full timestamps.
func parseTime(value string, end bool) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return t.UTC(), nil
	}

	day, dayErr := time.ParseInLocation(time.DateOnly, value, time.UTC)
	if dayErr != nil {
		return time.Time{}, &TimeParseError{Value: value, Err: err}
	}
	if end {
		return day.Add(23*time.Hour + 59*time.Minute + 59*time.Second), nil
	}
	return day, nil
}
