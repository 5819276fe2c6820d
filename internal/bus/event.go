package bus

import "time"

// Event is a domain event published on the bus. Kind uses dotted
// namespaces: "ws." for transport events, "chat." for conversation list
// changes, "thread." for open-thread changes, plus "presence.", "seen.",
// "outbox." and "conn.".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
