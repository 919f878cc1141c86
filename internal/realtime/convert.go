package realtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack/slackevents"

	"github.com/haasonsaas/cardbridge/pkg/models"
)

// convertMessage converts a Slack message event to the unified format.
// Mentions are stripped from the text; the message ID is the platform
// timestamp, unique per channel.
func convertMessage(event *slackevents.MessageEvent) *models.Message {
	text := stripMentions(event.Text)

	createdAt := time.Now()
	if ts, err := parseSlackTimestamp(event.TimeStamp); err == nil {
		createdAt = ts
	}

	return &models.Message{
		ID:        event.TimeStamp,
		ChatID:    event.Channel,
		ThreadID:  event.ThreadTimeStamp,
		SenderID:  event.User,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   text,
		Metadata: map[string]any{
			"slack_channel":   event.Channel,
			"slack_ts":        event.TimeStamp,
			"slack_thread_ts": event.ThreadTimeStamp,
		},
		CreatedAt: createdAt,
	}
}

// stripMentions removes <@USERID> mention markup and trims the result.
func stripMentions(text string) string {
	for strings.Contains(text, "<@") {
		start := strings.Index(text, "<@")
		end := strings.Index(text[start:], ">")
		if end == -1 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

// parseSlackTimestamp converts a "1234567890.123456" timestamp to time.Time.
func parseSlackTimestamp(ts string) (time.Time, error) {
	parts := strings.Split(ts, ".")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", ts)
	}

	var sec, usec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &usec); err != nil {
		return time.Time{}, err
	}

	return time.Unix(sec, usec*1000), nil
}
