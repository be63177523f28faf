package churchtools

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// groupMemberPageLimit is large so group membership usually fits one request.
const groupMemberPageLimit = 100

type groupMembersResponse struct {
	Data []groupMember `json:"data"`
}

type groupMember struct {
	PersonFields personFields `json:"personFields"`
}

type personFields struct {
	TransponderID *int64 `json:"transponderId"`
}

type personResponse struct {
	Data personFields `json:"data"`
}

// GroupTransponderIDs returns the transponder ids of all members of a group.
// Members without a transponder are skipped. Pagination ends on the first
// empty page.
func (c *Client) GroupTransponderIDs(ctx context.Context, groupID int64) ([]int64, error) {
	path := fmt.Sprintf("/api/groups/%d/members", groupID)

	var ids []int64
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("limit", strconv.Itoa(groupMemberPageLimit))
		query.Add("personFields[]", "transponderId")

		var resp groupMembersResponse
		if err := c.getJSON(ctx, path, query, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return ids, nil
		}
		for _, member := range resp.Data {
			if member.PersonFields.TransponderID != nil {
				ids = append(ids, *member.PersonFields.TransponderID)
			}
		}
	}
}

// PersonTransponderID returns a person's transponder id, or nil if the person
// has none.
func (c *Client) PersonTransponderID(ctx context.Context, personID int64) (*int64, error) {
	path := fmt.Sprintf("/api/persons/%d", personID)

	var resp personResponse
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.TransponderID, nil
}
