package bus

import "time"

// Event is a domain event published on the bus. Kind uses dotted
// namespaces ("session.", "wa.", "message.") so consumers can subscribe
// to a whole family of events with one prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
