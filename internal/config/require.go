package config

import (
	"fmt"
	"strings"
)

// Requirement names one credential or endpoint a command cannot run without.
type Requirement int

const (
	NeedDatabase Requirement = iota
	NeedProject
	NeedServiceKey
	NeedAnonKey
	NeedGeneration
	NeedTTS
	NeedRedis
)

// MissingError lists every unmet requirement by the env var that would fix it.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Vars, ", "))
}

func (c *Config) satisfied(r Requirement) bool {
	switch r {
	case NeedDatabase:
		return c.Database.URL != ""
	case NeedProject:
		return c.Supabase.URL != ""
	case NeedServiceKey:
		return c.Supabase.ServiceKey != ""
	case NeedAnonKey:
		return c.Supabase.AnonKey != ""
	case NeedGeneration:
		return c.Generation.APIKey != ""
	case NeedTTS:
		return c.TTS.APIKey != ""
	case NeedRedis:
		return c.Redis.URL != ""
	}
	return true
}

func envName(r Requirement) string {
	switch r {
	case NeedDatabase:
		return "DATABASE_URL"
	case NeedProject:
		return "SUPABASE_URL"
	case NeedServiceKey:
		return "SUPABASE_SERVICE_ROLE_KEY"
	case NeedAnonKey:
		return "SUPABASE_ANON_KEY"
	case NeedGeneration:
		return "GENERATION_API_KEY"
	case NeedTTS:
		return "ELEVENLABS_API_KEY"
	case NeedRedis:
		return "REDIS_URL"
	}
	return fmt.Sprintf("requirement(%d)", int(r))
}

// Require returns a *MissingError naming every unmet requirement, or nil.
func (c *Config) Require(reqs ...Requirement) error {
	var missing []string
	for _, r := range reqs {
		if !c.satisfied(r) {
			missing = append(missing, envName(r))
		}
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}
	return nil
}
