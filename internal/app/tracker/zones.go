package tracker

import (
	"bytes"

	"github.com/ghalamif/RailFlow/internal/domain"
)

// Peak is the highest level seen in a window and the frame captured with it.
type Peak struct {
	Value float64
	Frame []byte
	set   bool
}

func (p *Peak) offer(v float64, frame func() []byte) {
	if p.set && v < p.Value {
		return
	}
	p.Value = v
	p.Frame = nil
	if frame != nil {
		p.Frame = bytes.Clone(frame())
	}
	p.set = true
}

// Zone2Result is the accumulated zone2 peak attached to a delayed event.
type Zone2Result struct {
	EventID string
	Peaks   map[string]Peak
}

// ZoneTracker keeps per-zone peaks. Zone1 belongs to the active session;
// zone2 is handed to the session delayCount closes behind through a FIFO of
// event ids.
type ZoneTracker struct {
	delay int
	zone1 map[string]*Peak
	zone2 map[string]*Peak
	fifo  []string
}

func NewZoneTracker(delayCount int) *ZoneTracker {
	if delayCount < 1 {
		delayCount = 1
	}
	z := &ZoneTracker{delay: delayCount}
	z.resetZone1()
	z.resetZone2()
	return z
}

func (z *ZoneTracker) resetZone1() {
	z.zone1 = map[string]*Peak{domain.ZoneWS1: {}, domain.ZoneDS1: {}}
}

func (z *ZoneTracker) resetZone2() {
	z.zone2 = map[string]*Peak{domain.ZoneWS2: {}, domain.ZoneDS2: {}}
}

// Offer records one level. Zone1 levels count only while a session is
// active; zone2 levels count once the FIFO holds delay-1 ids. It reports
// whether the level was accumulated.
func (z *ZoneTracker) Offer(zone string, v float64, active bool, frame func() []byte) bool {
	if p, ok := z.zone1[zone]; ok {
		if !active {
			return false
		}
		p.offer(v, frame)
		return true
	}
	if p, ok := z.zone2[zone]; ok {
		if len(z.fifo) < z.delay-1 {
			return false
		}
		p.offer(v, frame)
		return true
	}
	return false
}

// StartSession clears zone1 for the new window.
func (z *ZoneTracker) StartSession() { z.resetZone1() }

// CloseSession returns the zone1 peaks of the closing event, pushes it onto
// the zone2 FIFO and, when the FIFO is deep enough, pops the oldest id with
// the zone2 accumulator.
func (z *ZoneTracker) CloseSession(eventID string) (zone1 map[string]Peak, zone2 *Zone2Result) {
	zone1 = snapshot(z.zone1)
	z.resetZone1()

	z.fifo = append(z.fifo, eventID)
	if len(z.fifo) >= z.delay {
		target := z.fifo[0]
		z.fifo = z.fifo[1:]
		zone2 = &Zone2Result{EventID: target, Peaks: snapshot(z.zone2)}
		z.resetZone2()
	}
	return zone1, zone2
}

// Depth is the number of events waiting for their zone2 peak.
func (z *ZoneTracker) Depth() int { return len(z.fifo) }

// Pending returns the ids waiting for zone2, oldest first.
func (z *ZoneTracker) Pending() []string { return append([]string(nil), z.fifo...) }

func snapshot(m map[string]*Peak) map[string]Peak {
	out := make(map[string]Peak, len(m))
	for k, p := range m {
		out[k] = *p
	}
	return out
}
