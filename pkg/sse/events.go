package sse

// ControlEvent names the frames the realtime stream sends on its own behalf,
// as opposed to application events forwarded from the hub.
type ControlEvent string

const (
	// EventConnected is the first frame of a stream and carries the connection id.
	EventConnected ControlEvent = "connected"

	// EventSubscribed confirms a room subscription.
	EventSubscribed ControlEvent = "subscribed"

	// EventUnsubscribed confirms a room was left.
	EventUnsubscribed ControlEvent = "unsubscribed"

	// EventError reports a rejected request on the stream.
	EventError ControlEvent = "error"
)

// ConnectedEvent is sent once the connection is registered.
type ConnectedEvent struct {
	ConnectionID string   `json:"connectionId"`
	UserID       string   `json:"userId"`
	Rooms        []string `json:"rooms"`
}

// SubscriptionEvent confirms a subscribe or unsubscribe.
type SubscriptionEvent struct {
	Topic string `json:"topic"`
	Room  string `json:"room"`
}

// ErrorEvent is sent when a client request on the stream fails.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEvent creates an error frame payload.
func NewErrorEvent(code, message string) ErrorEvent {
	return ErrorEvent{Code: code, Message: message}
}
