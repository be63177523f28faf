package salto

import "context"

// ExtIDsByTransponder scans the user directory and returns the ExtId for each
// of the given transponders that has one. Transponders without a matching
// user are absent from the result. When the directory lists a transponder on
// several users, the last one in enumeration order wins.
func (c *Client) ExtIDsByTransponder(ctx context.Context, transponders []int64) (map[int64]string, error) {
	wanted := make(map[int64]bool, len(transponders))
	for _, t := range transponders {
		wanted[t] = true
	}

	extIDs := make(map[int64]string, len(transponders))
	it := c.Users()
	for {
		user, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return extIDs, nil
		}
		if !wanted[user.TransponderID] {
			continue
		}
		extIDs[user.TransponderID] = user.ExtID
	}
}
