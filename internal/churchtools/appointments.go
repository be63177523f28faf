package churchtools

import (
	"context"
	"fmt"
)

type appointmentResponse struct {
	Data appointmentData `json:"data"`
}

type appointmentData struct {
	// CalculatedDates holds the occurrences of a repeating appointment,
	// keyed by day. Takes precedence over Calculated when both are set.
	CalculatedDates map[string]timeframe `json:"calculatedDates"`
	// Calculated is the timeframe of a single, nonrepeating appointment.
	Calculated *timeframe `json:"calculated"`
}

// Appointment fetches a calendar entry and returns its timeframe on the given
// day (formatted YYYY-MM-DD). For repeating appointments the occurrence on
// that day is returned.
func (c *Client) Appointment(ctx context.Context, calendarID, appointmentID int64, day string) (timeframe, error) {
	path := fmt.Sprintf("/api/calendars/%d/appointments/%d", calendarID, appointmentID)

	var resp appointmentResponse
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return timeframe{}, err
	}

	if resp.Data.CalculatedDates != nil {
		frame, ok := resp.Data.CalculatedDates[day]
		if !ok {
			return timeframe{}, &NoCalculatedTimeError{AppointmentID: appointmentID, Day: day}
		}
		return frame, nil
	}

	if resp.Data.Calculated == nil {
		return timeframe{}, &NoCalculatedTimeError{AppointmentID: appointmentID}
	}
	return *resp.Data.Calculated, nil
}
