package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event names pushed to clients.
const (
	EventAlertNew     = "alert:new"
	EventAlertWeather = "alert:weather"
	EventPriceUpdate  = "price:update"
	EventPriceAlert   = "price:alert"

	EventNotificationNew = "notification:new"
)

const (
	userRoomPrefix      = "user:"
	commodityRoomPrefix = "commodity:"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrInvalidTopic      = errors.New("invalid topic")
	ErrReservedRoom      = errors.New("user rooms cannot be subscribed to")
)

// UserRoom is the room every connection of userID joins on connect.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// CommodityRoom is the topic room of price updates for commodity.
func CommodityRoom(commodity string) string {
	return commodityRoomPrefix + strings.ToUpper(strings.TrimSpace(commodity))
}

// NormalizeTopic validates a client supplied topic and returns its room key.
// "commodity:soja" becomes "commodity:SOJA".
func NormalizeTopic(topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	kind, name, ok := strings.Cut(topic, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	switch strings.ToLower(kind) + ":" {
	case commodityRoomPrefix:
		return CommodityRoom(name), nil
	case userRoomPrefix:
		return "", ErrReservedRoom
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
}

// Frame is one event as delivered to a connection.
type Frame struct {
	Event     string          `json:"event"`
	Room      string          `json:"room,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TargetKind selects which connections an emit reaches.
type TargetKind string

const (
	TargetUser TargetKind = "user"
	TargetRoom TargetKind = "room"
	TargetAll  TargetKind = "all"
)

// Target addresses an emit.
type Target struct {
	Kind TargetKind `json:"kind"`
	Key  string     `json:"key,omitempty"`
}

func (t Target) String() string {
	if t.Kind == TargetAll {
		return string(TargetAll)
	}
	return string(t.Kind) + "(" + t.Key + ")"
}

// room returns the room the target resolves to, empty for broadcast.
func (t Target) room() string {
	switch t.Kind {
	case TargetUser:
		return UserRoom(t.Key)
	case TargetRoom:
		return t.Key
	default:
		return ""
	}
}

// Delivery is the outcome of one emit on this instance. Emits are
// fire-and-forget: callers log a failed Delivery and carry on.
type Delivery struct {
	Event     string
	Target    Target
	Delivered int
	Dropped   int
	Err       error
}

// OK reports whether the emit was encoded and published without error.
// Zero receivers is a successful delivery.
func (d Delivery) OK() bool {
	return d.Err == nil
}

func (d Delivery) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("event", d.Event),
		slog.String("target", d.Target.String()),
		slog.Int("delivered", d.Delivered),
		slog.Int("dropped", d.Dropped),
	}
	if d.Err != nil {
		attrs = append(attrs, slog.String("error", d.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// Envelope carries an emit between instances over the Bus.
type Envelope struct {
	Origin string `json:"origin"`
	Target Target `json:"target"`
	Frame  Frame  `json:"frame"`
}

// ClientMessage is a subscription request sent by a client.
type ClientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)
