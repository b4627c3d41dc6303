package domain

import (
	"fmt"
	"time"
)

// Acoustic zones and the cameras that watch them.
const (
	ZoneWS1 = "ws1"
	ZoneDS1 = "ds1"
	ZoneWS2 = "ws2"
	ZoneDS2 = "ds2"
)

// Cameras snapshotted at session start.
const (
	CameraCar     = "cam1"
	CameraWheelWS = "wheel_ws"
	CameraWheelDS = "wheel_ds"
)

// Cameras lists every camera in snapshot order.
var Cameras = []string{CameraCar, ZoneWS1, ZoneDS1, ZoneWS2, ZoneDS2, CameraWheelWS, CameraWheelDS}

// CameraImageColumn maps a camera to the image column filled at session start.
var CameraImageColumn = map[string]string{
	CameraCar:     ColImgCar,
	ZoneWS1:       ColImgWS1,
	ZoneDS1:       ColImgDS1,
	ZoneWS2:       ColImgWS2,
	ZoneDS2:       ColImgDS2,
	CameraWheelWS: ColImgWheelWS,
	CameraWheelDS: ColImgWheelDS,
}

// ZoneLevelColumn maps a zone to its decibel column.
var ZoneLevelColumn = map[string]string{
	ZoneWS1: ColWS1dB,
	ZoneDS1: ColDS1dB,
	ZoneWS2: ColWS2dB,
	ZoneDS2: ColDS2dB,
}

// Level is one acoustic reading for a zone.
type Level struct {
	Zone  string    `json:"zone"`
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Detection is the vision model's verdict for one frame of the number camera.
type Detection struct {
	HasDigit  bool   `json:"has_digit"`
	FrameCode string `json:"frame_code"`
	Mark      bool   `json:"mark"`
}

// ImageKey names a saved frame: <yyyymmdd>/<prefix>_<event_id>_<hhmmss>_<micros>.jpg
func ImageKey(prefix, eventID string, t time.Time) string {
	return fmt.Sprintf("%s/%s_%s_%s_%06d.jpg", t.Format("20060102"), prefix, eventID, t.Format("150405"), t.Nanosecond()/1000)
}
