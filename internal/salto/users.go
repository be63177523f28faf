package salto

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
)

// userListPageSize matches the page size the Salto web application requests.
const userListPageSize = 21

// User is a cardholder from the Salto user directory.
type User struct {
	// ExtID is the external identity key used by the staging table.
	ExtID string

	// TransponderID is the user's transponder number.
	TransponderID int64
}

type userRecord struct {
	ExtID string `json:"ExtId"`
	// Title contains the transponder id as a string, potentially with
	// leading zeros.
	Title string `json:"Title"`
}

type userListRequest struct {
	// StartingItem is the full raw record that ended the previous page,
	// or nil for the first page.
	StartingItem json.RawMessage   `json:"startingItem"`
	OrderBy      int               `json:"orderBy"`
	MaxCount     int               `json:"maxCount"`
	Relations    userListRelations `json:"returnRelations"`
	Filter       string            `json:"filterCriteria"`
	IsForward    bool              `json:"isForward"`
}

type userListRelations struct {
	Type       string `json:"$type"`
	Data       bool   `json:"Data"`
	Enrollment bool   `json:"Enrollment"`
}

func newUserListRequest(cursor json.RawMessage) userListRequest {
	return userListRequest{
		StartingItem: cursor,
		OrderBy:      0,
		MaxCount:     userListPageSize,
		Relations: userListRelations{
			Type:       "Salto.Services.Web.Model.Dto.Cardholders.Users.UserRelationSet",
			Data:       false,
			Enrollment: false,
		},
		Filter:    "",
		IsForward: false,
	}
}

// UserIterator enumerates the full Salto user directory page by page.
type UserIterator struct {
	client    *Client
	buffer    []json.RawMessage
	cursor    json.RawMessage
	exhausted bool
}

// Users returns an iterator over the full user directory.
func (c *Client) Users() *UserIterator {
	return &UserIterator{client: c}
}

// Next returns the next user. The second return value is false when the
// directory is exhausted. Records that do not carry an ExtId and a numeric
// transponder id are skipped; a failed page fetch is terminal.
func (it *UserIterator) Next(ctx context.Context) (User, bool, error) {
	for {
		for len(it.buffer) > 0 {
			raw := it.buffer[0]
			it.buffer = it.buffer[1:]

			user, ok := parseUser(raw)
			if !ok {
				continue
			}
			return user, true, nil
		}

		if it.exhausted {
			return User{}, false, nil
		}

		if err := it.fetchPage(ctx); err != nil {
			return User{}, false, err
		}
	}
}

func (it *UserIterator) fetchPage(ctx context.Context) error {
	var page []json.RawMessage
	if err := it.client.postJSON(ctx, "/rpc/GetUserListStartingFromItem", newUserListRequest(it.cursor), &page); err != nil {
		return err
	}

	if len(page) == 0 {
		it.exhausted = true
		return nil
	}

	// The next page is requested relative to the raw last record of this
	// one, including all the fields we never look at.
	it.cursor = page[len(page)-1]
	it.buffer = page
	return nil
}

func parseUser(raw json.RawMessage) (User, bool) {
	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		slog.Debug("Skipping malformed user record", "error", err)
		return User{}, false
	}
	if rec.ExtID == "" {
		return User{}, false
	}
	transponder, err := strconv.ParseInt(rec.Title, 10, 64)
	if err != nil {
		slog.Debug("Skipping user without numeric transponder id", "ext_id", rec.ExtID, "title", rec.Title)
		return User{}, false
	}
	return User{ExtID: rec.ExtID, TransponderID: transponder}, true
}
