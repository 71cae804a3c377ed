package bus

import "time"

// Event is a change notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. The segment before the dot is the publishing component.
const (
	ConnStateChanged = "conn.state_changed"
	ConnConnected    = "conn.connected"
	ConnDisconnected = "conn.disconnected"
	ConnReconnecting = "conn.reconnecting"
	ConnAuthRejected = "conn.auth_rejected"

	ChatListChanged     = "chatlist.changed"
	ConversationChanged = "conversation.changed"
	PresenceChanged     = "presence.changed"

	NotifyInline       = "notify.inline"
	NotifyOutOfBand    = "notify.out_of_band"
	NotifyNotification = "notify.notification"
	NotifyServerError  = "notify.server_error"
)

// Reconnecting is the payload of ConnReconnecting.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
	Err     error
}
