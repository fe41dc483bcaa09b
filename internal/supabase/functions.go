package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Invocation is the outcome of one edge function call. Status is set even
// when the function answered with an error.
type Invocation struct {
	Function string
	Status   int
	Duration time.Duration
	Body     []byte
}

// OK reports a 2xx answer.
func (i Invocation) OK() bool {
	return i.Status >= 200 && i.Status < 300
}

// InvokeFunction POSTs body to the named edge function. A non-2xx answer is
// not an error here: smoke tests want to see it. err is only set when no
// answer came back.
func (c *Client) InvokeFunction(ctx context.Context, tier Tier, name string, body json.RawMessage) (Invocation, error) {
	inv := Invocation{Function: name}
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	key, err := c.key(tier)
	if err != nil {
		return inv, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/"+url.PathEscape(name), bytes.NewReader(body))
	if err != nil {
		return inv, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return inv, fmt.Errorf("failed to invoke %s: %w", name, err)
	}
	defer resp.Body.Close()

	inv.Status = resp.StatusCode
	inv.Body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	inv.Duration = time.Since(start)
	if err != nil {
		return inv, fmt.Errorf("failed to read %s response: %w", name, err)
	}
	return inv, nil
}
