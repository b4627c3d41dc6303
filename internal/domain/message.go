package domain

import "time"

// MessageKind names an outbound feed message.
type MessageKind string

const (
	KindCarEvent    MessageKind = "car_event"
	KindCarNo       MessageKind = "car_no"
	KindWheelStatus MessageKind = "wheel_status"
	KindCarUpdate   MessageKind = "car_update"
)

// Session edge names carried by car_event messages.
const (
	EventStart = "START"
	EventEnd   = "END"
)

// Message is the JSON envelope published on the outbound feed.
type Message struct {
	Kind    MessageKind  `json:"type"`
	Event   string       `json:"event,omitempty"`
	EventID string       `json:"event_id"`
	SeqNo   int64        `json:"seq_no,omitempty"`
	CarNo   string       `json:"car_no,omitempty"`
	Station Station      `json:"station,omitempty"`
	Axle    int          `json:"axle,omitempty"`
	Status  string       `json:"status,omitempty"`
	Verdict string       `json:"wheel_verdict,omitempty"`
	Record  *EventRecord `json:"record,omitempty"`
	TsMs    int64        `json:"ts_ms"`
}

// Stamp sets TsMs from t and returns the message.
func (m Message) Stamp(t time.Time) Message {
	m.TsMs = t.UnixMilli()
	return m
}
