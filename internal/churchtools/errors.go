package churchtools

import (
	"errors"
	"fmt"
)

// ErrNotUTF8 indicates a response body that is not valid UTF-8.
var ErrNotUTF8 = errors.New("response body is not valid UTF-8")

// HTTPError represents an HTTP error
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// TransportError wraps a network-level failure talking to ChurchTools.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError wraps a failure to decode a ChurchTools response body.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TimeParseError indicates a booking or appointment timestamp that could not
// be parsed.
type TimeParseError struct {
	Value string
	Err   error
}

func (e *TimeParseError) Error() string {
	return fmt.Sprintf("cannot parse timestamp %q: %v", e.Value, e.Err)
}

func (e *TimeParseError) Unwrap() error {
	return e.Err
}

// NoCalculatedTimeError indicates an appointment without a usable calculated
// timeframe. Day is empty when the appointment has no timeframe at all, and
// holds the requested day when a repeating appointment has no occurrence on it.
type NoCalculatedTimeError struct {
	AppointmentID int64
	Day           string
}

func (e *NoCalculatedTimeError) Error() string {
	if e.Day == "" {
		return fmt.Sprintf("appointment %d has no calculated datetime", e.AppointmentID)
	}
	return fmt.Sprintf("appointment %d has no calculated datetime on %s", e.AppointmentID, e.Day)
}
