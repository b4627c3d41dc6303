package domain

import (
	"fmt"
	"time"
)

// Station is one side of the track carrying a wheel rotation/position sensor pair.
type Station string

const (
	StationWS Station = "WS"
	StationDS Station = "DS"
)

// Stations lists every station in a stable order.
var Stations = []Station{StationWS, StationDS}

// DoneFlag is the completion flag owned by the station.
func (s Station) DoneFlag() Flag {
	if s == StationDS {
		return FlagWheelDS
	}
	return FlagWheelWS
}

// WheelCode is the raw rotation or position code written by a station process.
type WheelCode uint8

const (
	WheelUndetected WheelCode = 0
	WheelNormal     WheelCode = 1
	WheelAbnormal   WheelCode = 2
)

// NormalizeWheelCode maps anything outside 0..2 to WheelUndetected.
func NormalizeWheelCode(b byte) WheelCode {
	if b > byte(WheelAbnormal) {
		return WheelUndetected
	}
	return WheelCode(b)
}

// Wheel status strings stored per axle.
const (
	StatusNormal     = "NORMAL"
	StatusAbnormal   = "ABNORMAL"
	StatusUndetected = "UNDETECTED"
	StatusNoData     = "NO_DATA"
)

// Judge combines the rotation and position codes of one axle.
func Judge(rot, pos WheelCode) string {
	switch {
	case rot == WheelAbnormal || pos == WheelAbnormal:
		return StatusAbnormal
	case rot == WheelUndetected || pos == WheelUndetected:
		return StatusUndetected
	default:
		return StatusNormal
	}
}

// WheelReport is one axle observation read from a station mailbox or a remote feed.
type WheelReport struct {
	Station    Station   `json:"station"`
	Axle       int       `json:"axle"`
	CarNo      string    `json:"car_no"`
	Rotation   WheelCode `json:"rotation"`
	Position   WheelCode `json:"position"`
	Stopped    bool      `json:"stopped"`
	ReceivedAt time.Time `json:"received_at"`
}

// Status is the judged axle status.
func (r WheelReport) Status() string { return Judge(r.Rotation, r.Position) }

// StatusColumn returns the record column holding this axle's status.
func (r WheelReport) StatusColumn() (string, error) {
	return WheelStatusColumn(r.Station, r.Axle)
}

// WheelStatusColumn maps a station and axle to its status column.
func WheelStatusColumn(st Station, axle int) (string, error) {
	switch {
	case st == StationWS && axle == 1:
		return ColWSWheel1Status, nil
	case st == StationWS && axle == 2:
		return ColWSWheel2Status, nil
	case st == StationDS && axle == 1:
		return ColDSWheel1Status, nil
	case st == StationDS && axle == 2:
		return ColDSWheel2Status, nil
	}
	return "", fmt.Errorf("no wheel column for station=%q axle=%d", st, axle)
}

// WheelVerdict folds the four axle statuses of a record into one verdict.
// ABNORMAL wins over missing data, missing data wins over NORMAL.
func WheelVerdict(r *EventRecord) string {
	verdict := StatusNormal
	for _, col := range []string{ColWSWheel1Status, ColWSWheel2Status, ColDSWheel1Status, ColDSWheel2Status} {
		switch r.Text[col] {
		case StatusAbnormal:
			return StatusAbnormal
		case StatusNormal:
		default:
			verdict = StatusUndetected
		}
	}
	return verdict
}
