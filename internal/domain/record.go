package domain

import (
	"fmt"
	"time"
)

// Flag is one completion stage of an EventRecord. Flags only ever get set.
type Flag uint8

const (
	FlagStart Flag = 1 << iota
	FlagCarNo
	FlagZone1
	FlagZone2
	FlagWheelWS
	FlagWheelDS
	FlagUI
)

// ReadyMask is the set of flags a record needs before it may be displayed.
const ReadyMask = FlagStart | FlagCarNo | FlagZone1 | FlagZone2 | FlagWheelWS | FlagWheelDS

var flagColumns = []struct {
	flag Flag
	col  string
}{
	{FlagStart, "start_done"},
	{FlagCarNo, "car_no_done"},
	{FlagZone1, "zone1_done"},
	{FlagZone2, "zone2_done"},
	{FlagWheelWS, "wheel_ws_done"},
	{FlagWheelDS, "wheel_ds_done"},
	{FlagUI, "ui_done"},
}

// Has reports whether every bit of other is set in f.
func (f Flag) Has(other Flag) bool { return f&other == other }

// Columns returns the store column names of the set flags, in declaration order.
func (f Flag) Columns() []string {
	var out []string
	for _, fc := range flagColumns {
		if f&fc.flag != 0 {
			out = append(out, fc.col)
		}
	}
	return out
}

// AllFlags lists every flag in declaration order.
var AllFlags = []Flag{FlagStart, FlagCarNo, FlagZone1, FlagZone2, FlagWheelWS, FlagWheelDS, FlagUI}

// FlagColumns lists every flag column in declaration order.
func FlagColumns() []string { return (ReadyMask | FlagUI).Columns() }

// Sentinels written when a value never arrived.
const (
	CarNoUnknown = "FFF"
	CarNoNone    = "NONE"
)

// Text columns a patch may carry.
const (
	ColCarNo          = "car_no"
	ColImgCar         = "img_car_path"
	ColImgWS1         = "img_ws1_path"
	ColImgDS1         = "img_ds1_path"
	ColImgWS2         = "img_ws2_path"
	ColImgDS2         = "img_ds2_path"
	ColImgWheelWS     = "img_ws_wheel_path"
	ColImgWheelDS     = "img_ds_wheel_path"
	ColWSWheel1Status = "ws_wheel1_status"
	ColWSWheel2Status = "ws_wheel2_status"
	ColDSWheel1Status = "ds_wheel1_status"
	ColDSWheel2Status = "ds_wheel2_status"
)

// Level columns a patch may carry.
const (
	ColWS1dB = "ws1_db"
	ColDS1dB = "ds1_db"
	ColWS2dB = "ws2_db"
	ColDS2dB = "ds2_db"
)

// TextColumns is the whitelist of string columns in declaration order.
var TextColumns = []string{
	ColCarNo,
	ColImgCar, ColImgWS1, ColImgDS1, ColImgWS2, ColImgDS2, ColImgWheelWS, ColImgWheelDS,
	ColWSWheel1Status, ColWSWheel2Status, ColDSWheel1Status, ColDSWheel2Status,
}

// LevelColumns is the whitelist of decibel columns in declaration order.
var LevelColumns = []string{ColWS1dB, ColDS1dB, ColWS2dB, ColDS2dB}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Patch is a partial update of one EventRecord keyed by EventID. Only the
// columns present are written; Flags are OR-ed into the stored flags.
type Patch struct {
	EventID string             `json:"event_id" msgpack:"event_id"`
	SeqNo   int64              `json:"seq_no,omitempty" msgpack:"seq_no,omitempty"`
	Text    map[string]string  `json:"text,omitempty" msgpack:"text,omitempty"`
	Levels  map[string]float64 `json:"levels,omitempty" msgpack:"levels,omitempty"`
	Flags   Flag               `json:"flags" msgpack:"flags"`
	At      time.Time          `json:"at" msgpack:"at"`
}

// NewPatch returns an empty patch for eventID stamped with the current time.
func NewPatch(eventID string) *Patch {
	return &Patch{EventID: eventID, At: time.Now()}
}

// SetText records a string column. Empty values are kept so callers can
// explicitly write an empty image path.
func (p *Patch) SetText(col, v string) *Patch {
	if p.Text == nil {
		p.Text = make(map[string]string)
	}
	p.Text[col] = v
	return p
}

// SetLevel records a decibel column.
func (p *Patch) SetLevel(col string, v float64) *Patch {
	if p.Levels == nil {
		p.Levels = make(map[string]float64)
	}
	p.Levels[col] = v
	return p
}

// Mark ORs flags into the patch.
func (p *Patch) Mark(f Flag) *Patch {
	p.Flags |= f
	return p
}

// Validate rejects patches that would touch columns outside the record.
func (p *Patch) Validate() error {
	if p.EventID == "" {
		return fmt.Errorf("patch: empty event_id")
	}
	for col := range p.Text {
		if !contains(TextColumns, col) {
			return fmt.Errorf("patch %s: unknown text column %q", p.EventID, col)
		}
	}
	for col := range p.Levels {
		if !contains(LevelColumns, col) {
			return fmt.Errorf("patch %s: unknown level column %q", p.EventID, col)
		}
	}
	if p.Flags&FlagUI != 0 {
		return fmt.Errorf("patch %s: ui_done is owned by the poller", p.EventID)
	}
	return nil
}

// EventRecord is the persisted, per-wagon aggregate.
type EventRecord struct {
	ID        int64              `json:"id"`
	EventID   string             `json:"event_id"`
	SeqNo     int64              `json:"seq_no"`
	Text      map[string]string  `json:"text"`
	Levels    map[string]float64 `json:"levels"`
	Flags     Flag               `json:"flags"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewEventRecord returns an empty record with all flags unset.
func NewEventRecord(eventID string, now time.Time) *EventRecord {
	return &EventRecord{
		EventID:   eventID,
		Text:      make(map[string]string),
		Levels:    make(map[string]float64),
		CreatedAt: now,
	}
}

// Apply merges a patch into the record.
func (r *EventRecord) Apply(p *Patch) {
	if p.SeqNo != 0 {
		r.SeqNo = p.SeqNo
	}
	for k, v := range p.Text {
		r.Text[k] = v
	}
	for k, v := range p.Levels {
		r.Levels[k] = v
	}
	r.Flags |= p.Flags
}

// Ready reports whether the record may be handed to the display consumer.
func (r *EventRecord) Ready() bool {
	return r.Flags.Has(ReadyMask) && !r.Flags.Has(FlagUI)
}

// CarNo returns the stored car number or "" when unset.
func (r *EventRecord) CarNo() string { return r.Text[ColCarNo] }

// Clone returns a deep copy safe to hand to other goroutines.
func (r *EventRecord) Clone() EventRecord {
	out := *r
	out.Text = make(map[string]string, len(r.Text))
	for k, v := range r.Text {
		out.Text[k] = v
	}
	out.Levels = make(map[string]float64, len(r.Levels))
	for k, v := range r.Levels {
		out.Levels[k] = v
	}
	return out
}
