// Package supabase is a small client for the hosted project's HTTP gateway:
// PostgREST row counts, storage buckets and objects, and edge functions.
package supabase

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	storage "github.com/supabase-community/storage-go"
)

// Tier selects which project key a request is made with.
type Tier string

const (
	// TierService bypasses row level security.
	TierService Tier = "service"
	// TierAnon sees only what the public policies allow.
	TierAnon Tier = "anon"
)

// ParseTier accepts "service" (or "service_role") and "anon" in any case.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(s)) {
	case TierService, "service_role":
		return TierService, nil
	case TierAnon:
		return TierAnon, nil
	}
	return "", fmt.Errorf("unknown key tier %q (want service or anon)", s)
}

// Options configures New. URL is the project URL, e.g.
// https://abc.supabase.co. Timeout only applies to edge function calls.
type Options struct {
	URL        string
	ServiceKey string
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to one project. It holds no connections of its own: the
// REST and storage sub-clients are built per call with the key of the
// requested tier.
type Client struct {
	baseURL string
	keys    map[Tier]string
	http    *http.Client
}

// New validates opts and returns a client.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("supabase project url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.URL, "/"),
		keys:    map[Tier]string{TierService: opts.ServiceKey, TierAnon: opts.AnonKey},
		http:    hc,
	}, nil
}

func (c *Client) key(tier Tier) (string, error) {
	key := c.keys[tier]
	if key == "" {
		return "", fmt.Errorf("no %s key configured", tier)
	}
	return key, nil
}

func (c *Client) rest(tier Tier) (*postgrest.Client, error) {
	key, err := c.key(tier)
	if err != nil {
		return nil, err
	}
	return postgrest.NewClient(c.baseURL+"/rest/v1", "", map[string]string{
		"apikey":        key,
		"Authorization": "Bearer " + key,
	}), nil
}

// storage returns a fresh storage client. storage-go keeps per-upload
// headers on the client, so one is never shared between calls.
func (c *Client) storage() (*storage.Client, error) {
	key, err := c.key(TierService)
	if err != nil {
		return nil, err
	}
	return storage.NewClient(c.baseURL+"/storage/v1", key, map[string]string{"apikey": key}), nil
}

// IsNotFound reports whether err is storage's "not found" answer. Storage
// reports missing buckets and objects as a 400 with a "not found" message.
func IsNotFound(err error) bool {
	var se *storage.StorageError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusNotFound || strings.Contains(strings.ToLower(se.Message), "not found")
}
