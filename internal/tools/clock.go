package tools

import (
	"context"
	"fmt"
	"time"
)

// ClockTool reports the current wall time, optionally in a named timezone.
// Several prompts anchor relative dates ("yesterday", "last week") on it.
type ClockTool struct {
	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewClockTool() *ClockTool {
	return &ClockTool{Now: time.Now}
}

func (t *ClockTool) Name() string { return "get_current_time" }

func (t *ClockTool) Description() string {
	return "Get the current date and time. Optionally pass an IANA timezone name (e.g. \"Asia/Shanghai\", \"UTC\"); defaults to the server's local time."
}

func (t *ClockTool) ArgsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name, e.g. \"America/New_York\". Optional.",
			},
		},
	}
}

func (t *ClockTool) Invoke(_ context.Context, args map[string]interface{}) (string, error) {
	now := t.Now()
	if tz := stringArg(args, "timezone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return ErrorJSON(fmt.Sprintf("invalid timezone %q: %v", tz, err)), nil
		}
		now = now.In(loc)
	}
	zone, _ := now.Zone()
	return fmt.Sprintf("%s %s %s", now.Format("2006-01-02 15:04:05"), now.Weekday().String(), zone), nil
}
