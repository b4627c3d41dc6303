// Package shm implements the fixed-layout status region shared with the
// station processes and its single-slot mailbox handshake.
package shm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
)

// RegionSize is the byte length of one status region.
const RegionSize = 100

// ShmDir is where named regions live so other processes can attach by name.
var ShmDir = "/dev/shm"

// StopOffset holds the global stop/moving flag.
const StopOffset = 0

// Mailbox flag values.
const (
	FlagFree  byte = 0
	FlagReady byte = 1
)

var (
	ErrSlotBusy    = errors.New("shm: slot busy")
	ErrRegionSize  = errors.New("shm: region too small")
	ErrPayloadSize = errors.New("shm: payload does not fit slot")
)

// Slot is one mailbox: a flag byte followed by a payload window.
type Slot struct {
	Name   string
	Flag   int
	Offset int
	Len    int
}

// Layout places the three mailboxes of one station inside a region.
type Layout struct {
	NewCarNo Slot
	Axle1    Slot
	Axle2    Slot
}

// Axle returns the mailbox of axle 1 or 2.
func (l Layout) Axle(n int) (Slot, error) {
	switch n {
	case 1:
		return l.Axle1, nil
	case 2:
		return l.Axle2, nil
	}
	return Slot{}, fmt.Errorf("shm: no axle %d", n)
}

func axleSlot(name string, flag int) Slot {
	// car echo at flag+1..flag+3, rotation at flag+6, position at flag+7
	return Slot{Name: name, Flag: flag, Offset: flag + 1, Len: axlePayloadLen}
}

// StationLayout is the per-station region layout: each station owns a
// region with axle mailboxes at 10 and 20.
func StationLayout() Layout {
	return Layout{
		NewCarNo: Slot{Name: "new_car_no", Flag: 1, Offset: 2, Len: carNoPayloadLen},
		Axle1:    axleSlot("axle1", 10),
		Axle2:    axleSlot("axle2", 20),
	}
}

// LegacyLayout is the older single shared region where DS uses 10/20 and
// WS uses 30/40.
func LegacyLayout(st domain.Station) Layout {
	l := StationLayout()
	if st == domain.StationWS {
		l.Axle1 = axleSlot("axle1", 30)
		l.Axle2 = axleSlot("axle2", 40)
	}
	return l
}

// Region is a handle on one status region. Every slot has its own mutex so
// in-process writers and readers never interleave on the same mailbox; the
// flag byte is the cross-process handshake.
type Region struct {
	name   string
	buf    []byte
	layout Layout

	// PollInterval is the flag re-check period of a blocking TryWrite.
	PollInterval time.Duration

	mu    sync.Mutex
	slots map[int]*sync.Mutex
	close func() error
}

// NewRegion wraps buf. It is used for tests and for regions owned by this
// process only.
func NewRegion(name string, buf []byte, layout Layout) (*Region, error) {
	if len(buf) < RegionSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRegionSize, len(buf))
	}
	return &Region{
		name:         name,
		buf:          buf,
		layout:       layout,
		PollInterval: time.Millisecond,
		slots:        make(map[int]*sync.Mutex),
		close:        func() error { return nil },
	}, nil
}

func (r *Region) Name() string   { return r.name }
func (r *Region) Layout() Layout { return r.layout }

func (r *Region) slotLock(s Slot) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.slots[s.Flag]
	if !ok {
		m = &sync.Mutex{}
		r.slots[s.Flag] = m
	}
	return m
}

func (r *Region) check(s Slot, n int) error {
	if s.Flag < 0 || s.Offset+s.Len > len(r.buf) || n > s.Len {
		return fmt.Errorf("%w: slot %s len=%d payload=%d", ErrPayloadSize, s.Name, s.Len, n)
	}
	return nil
}

// TryWrite copies payload into the slot once its flag is free and then
// raises the flag. Non-blocking mode gives up immediately on a busy slot;
// blocking mode re-checks every PollInterval until timeout. A busy slot is
// reported as (false, ErrSlotBusy).
func (r *Region) TryWrite(s Slot, payload []byte, block bool, timeout time.Duration) (bool, error) {
	if err := r.check(s, len(payload)); err != nil {
		return false, err
	}
	lock := r.slotLock(s)
	deadline := time.Now().Add(timeout)
	for {
		lock.Lock()
		if r.buf[s.Flag] == FlagFree {
			n := copy(r.buf[s.Offset:s.Offset+s.Len], payload)
			clear(r.buf[s.Offset+n : s.Offset+s.Len])
			r.buf[s.Flag] = FlagReady
			lock.Unlock()
			return true, nil
		}
		lock.Unlock()

		if !block || !time.Now().Before(deadline) {
			return false, ErrSlotBusy
		}
		time.Sleep(r.PollInterval)
	}
}

// TryRead returns a copy of the slot payload when its flag is ready. With
// clear set the flag is dropped back to free, handing the slot back to the
// writer.
func (r *Region) TryRead(s Slot, clearFlag bool) ([]byte, bool) {
	if r.check(s, 0) != nil {
		return nil, false
	}
	lock := r.slotLock(s)
	lock.Lock()
	defer lock.Unlock()
	if r.buf[s.Flag] != FlagReady {
		return nil, false
	}
	out := make([]byte, s.Len)
	copy(out, r.buf[s.Offset:s.Offset+s.Len])
	if clearFlag {
		r.buf[s.Flag] = FlagFree
	}
	return out, true
}

var stopSlot = Slot{Name: "stop", Flag: StopOffset, Offset: StopOffset, Len: 1}

// Stopped reports the global stop flag.
func (r *Region) Stopped() bool {
	lock := r.slotLock(stopSlot)
	lock.Lock()
	defer lock.Unlock()
	return r.buf[StopOffset] != 0
}

// SetStopped writes the global stop flag.
func (r *Region) SetStopped(stop bool) {
	var v byte
	if stop {
		v = 1
	}
	lock := r.slotLock(stopSlot)
	lock.Lock()
	r.buf[StopOffset] = v
	lock.Unlock()
}

// Dump returns a snapshot of the raw region bytes, taken with every flag
// lock held.
func (r *Region) Dump() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.slots {
		m.Lock()
		defer m.Unlock()
	}
	out := make([]byte, RegionSize)
	copy(out, r.buf[:RegionSize])
	return out
}

// Close releases the mapping, if any.
func (r *Region) Close() error { return r.close() }
