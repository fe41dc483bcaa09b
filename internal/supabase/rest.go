package supabase

import (
	"context"
	"fmt"
)

// Filter is an equality condition on a column.
type Filter struct {
	Column string
	Value  string
}

// CountRows returns the exact row count of table visible to tier. The
// request is a HEAD with Prefer: count=exact, so no rows are transferred.
func (c *Client) CountRows(ctx context.Context, tier Tier, table string, filters ...Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rc, err := c.rest(tier)
	if err != nil {
		return 0, err
	}
	q := rc.From(table).Select("*", "exact", true)
	for _, f := range filters {
		q = q.Eq(f.Column, f.Value)
	}
	_, n, err := q.Execute()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
