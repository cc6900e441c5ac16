package notifications

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Channel is how a notification reaches the user.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Level is the urgency of a notification. It decides the job priority.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelNormal   Level = "normal"
	LevelLow      Level = "low"
)

// Notification is an in-app notification row.
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID        string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID    string          `bun:"user_id,notnull" json:"userId"`
	Title     string          `bun:"title,notnull" json:"title"`
	Message   string          `bun:"message,notnull" json:"message"`
	Level     Level           `bun:"level,notnull" json:"level"`
	Metadata  json.RawMessage `bun:"metadata,type:jsonb,notnull" json:"metadata,omitempty"`
	Read      bool            `bun:"is_read,notnull,default:false" json:"read"`
	CreatedAt time.Time       `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// SendNotificationPayload is the payload of send-notification jobs.
// Recipient is the address for the email, sms and push channels.
type SendNotificationPayload struct {
	UserID    string         `json:"userId"`
	Channel   Channel        `json:"channel"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Level     Level          `json:"level,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
}

// UnmarshalJSON also accepts the urgency under "priority", which older
// producers send; "level" wins when both are present.
func (p *SendNotificationPayload) UnmarshalJSON(data []byte) error {
	type plain SendNotificationPayload
	var aux struct {
		plain
		Priority Level `json:"priority"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = SendNotificationPayload(aux.plain)
	if p.Level == "" {
		p.Level = aux.Priority
	}
	return nil
}

// SendResult is stored as the job result.
type SendResult struct {
	Channel        Channel `json:"channel"`
	MessageID      string  `json:"messageId,omitempty"`
	NotificationID string  `json:"notificationId,omitempty"`
}

// NotificationStats represents aggregated notification statistics
type NotificationStats struct {
	Unread int64 `json:"unread"`
	Total  int64 `json:"total"`
}

// NotificationListResponse wraps the notification list
type NotificationListResponse struct {
	Data []Notification `json:"data"`
}
