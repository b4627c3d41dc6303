// Package codec decodes the JSON payloads that arrive from remote stations
// and the vision process.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
)

var (
	ErrNoStation = errors.New("codec: missing or unknown pos")
	ErrNoCarNo   = errors.New("codec: missing car_no")
)

// code accepts a JSON number, a numeric string or null.
type code int

func (c *code) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*c = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("wheel code %q: %w", b, err)
	}
	*c = code(f)
	return nil
}

func (c *code) wheel() domain.WheelCode {
	if c == nil || *c < 0 || *c > 255 {
		return domain.WheelUndetected
	}
	return domain.NormalizeWheelCode(byte(*c))
}

type axles struct {
	Rot1    *code `json:"wheel_1st_rotation"`
	Pos1    *code `json:"wheel_1st_position"`
	Rot2    *code `json:"wheel_2nd_rotation"`
	Pos2    *code `json:"wheel_2nd_position"`
	AltRot1 *code `json:"wheel1_rotation"`
	AltPos1 *code `json:"wheel1_position"`
	AltRot2 *code `json:"wheel2_rotation"`
	AltPos2 *code `json:"wheel2_position"`
}

func first(a, b *code) *code {
	if a != nil {
		return a
	}
	return b
}

type wheelMessage struct {
	Pos        string `json:"pos"`
	CarNo      any    `json:"car_no"`
	WheelCarNo any    `json:"wheel_car_no"`
	StopFlag   code   `json:"stop_flag"`
	Wheel      *axles `json:"wheel"`
	TsMs       int64  `json:"ts_ms"`
	axles
}

// DecodeWheelMessage turns one remote wheel message into its two axle
// reports. Codes may sit in a nested "wheel" object or at the top level;
// missing codes read as undetected.
func DecodeWheelMessage(data []byte, now time.Time) ([]domain.WheelReport, error) {
	var m wheelMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode wheel message: %w", err)
	}

	st := domain.Station(strings.ToUpper(strings.TrimSpace(m.Pos)))
	if st != domain.StationWS && st != domain.StationDS {
		return nil, fmt.Errorf("%w: %q", ErrNoStation, m.Pos)
	}
	carNo := normalizeCarNo(m.CarNo)
	if carNo == "" {
		carNo = normalizeCarNo(m.WheelCarNo)
	}
	if carNo == "" {
		return nil, ErrNoCarNo
	}

	a := m.axles
	if m.Wheel != nil {
		a = *m.Wheel
	}
	at := now
	if m.TsMs > 0 {
		at = time.UnixMilli(m.TsMs)
	}
	base := domain.WheelReport{Station: st, CarNo: carNo, Stopped: m.StopFlag == 1, ReceivedAt: at}

	r1, r2 := base, base
	r1.Axle, r2.Axle = 1, 2
	r1.Rotation, r1.Position = first(a.Rot1, a.AltRot1).wheel(), first(a.Pos1, a.AltPos1).wheel()
	r2.Rotation, r2.Position = first(a.Rot2, a.AltRot2).wheel(), first(a.Pos2, a.AltPos2).wheel()
	return []domain.WheelReport{r1, r2}, nil
}

// normalizeCarNo accepts a string or number and returns "" when absent.
// Short all-digit values are zero-padded to the three characters a session
// binds, so 90 and "90" both read as "090".
func normalizeCarNo(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == domain.CarNoNone {
		return ""
	}
	if len(s) < 3 && allDigits(s) {
		s = strings.Repeat("0", 3-len(s)) + s
	}
	return s
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// DecodeDetection parses one per-frame detection.
func DecodeDetection(data []byte) (domain.Detection, error) {
	var d domain.Detection
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("decode detection: %w", err)
	}
	return d, nil
}

// DecodeLevel parses one acoustic reading. A missing timestamp reads as now.
func DecodeLevel(data []byte, now time.Time) (domain.Level, error) {
	var l domain.Level
	if err := json.Unmarshal(data, &l); err != nil {
		return l, fmt.Errorf("decode level: %w", err)
	}
	l.Zone = strings.ToLower(strings.TrimSpace(l.Zone))
	if _, ok := domain.ZoneLevelColumn[l.Zone]; !ok {
		return l, fmt.Errorf("decode level: unknown zone %q", l.Zone)
	}
	if l.At.IsZero() {
		l.At = now
	}
	return l, nil
}
