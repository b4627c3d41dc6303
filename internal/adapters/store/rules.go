package store

import (
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// finalizeRule forces one flag category: empty text columns get textSentinel,
// null level columns get zero, and every flag in flags is set.
type finalizeRule struct {
	name         string
	flag         domain.Flag
	also         domain.Flag
	text         []string
	textSentinel string
	levels       []string
	cutoff       func(ports.FinalizeCutoffs) time.Time
}

var finalizeRules = []finalizeRule{
	{
		name:         "car_no",
		flag:         domain.FlagCarNo,
		also:         domain.FlagStart,
		text:         []string{domain.ColCarNo},
		textSentinel: domain.CarNoNone,
		cutoff:       func(c ports.FinalizeCutoffs) time.Time { return c.CarNo },
	},
	{
		// rows whose START patch was lost but whose car number arrived
		name:   "start",
		flag:   domain.FlagStart,
		cutoff: func(c ports.FinalizeCutoffs) time.Time { return c.CarNo },
	},
	{
		name:   "zone1",
		flag:   domain.FlagZone1,
		levels: []string{domain.ColWS1dB, domain.ColDS1dB},
		cutoff: func(c ports.FinalizeCutoffs) time.Time { return c.Zone1 },
	},
	{
		name:         "wheel_ws",
		flag:         domain.FlagWheelWS,
		text:         []string{domain.ColWSWheel1Status, domain.ColWSWheel2Status},
		textSentinel: domain.StatusNoData,
		cutoff:       func(c ports.FinalizeCutoffs) time.Time { return c.WheelWS },
	},
	{
		name:         "wheel_ds",
		flag:         domain.FlagWheelDS,
		text:         []string{domain.ColDSWheel1Status, domain.ColDSWheel2Status},
		textSentinel: domain.StatusNoData,
		cutoff:       func(c ports.FinalizeCutoffs) time.Time { return c.WheelDS },
	},
	{
		name:   "zone2",
		flag:   domain.FlagZone2,
		levels: []string{domain.ColWS2dB, domain.ColDS2dB},
		cutoff: func(c ports.FinalizeCutoffs) time.Time { return c.Zone2 },
	},
}
