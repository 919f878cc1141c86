package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Clock reports the current time, optionally in a requested zone. It is
// the built-in tool the bridge ships with so the tool round-trip is live
// out of the box.
type Clock struct {
	// Now is swappable for tests. Defaults to time.Now.
	Now func() time.Time
}

type clockParams struct {
	Timezone string `json:"timezone,omitempty"`
}

func (c *Clock) Name() string { return "current_time" }

func (c *Clock) Description() string {
	return "Get the current date and time. Accepts an optional IANA timezone name such as America/New_York; defaults to UTC."
}

func (c *Clock) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {
				"type": "string",
				"description": "IANA timezone name, e.g. Europe/Berlin. Defaults to UTC."
			}
		}
	}`)
}

func (c *Clock) Execute(_ context.Context, params json.RawMessage) (string, error) {
	var p clockParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return "", fmt.Errorf("invalid params: %w", err)
		}
	}

	loc := time.UTC
	if p.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(p.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q: %w", p.Timezone, err)
		}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().In(loc).Format(time.RFC3339), nil
}
