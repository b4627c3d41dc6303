package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/RailFlow/internal/domain"
)

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "IDLE"
}

// EdgeKind tells what a detection did to the session.
type EdgeKind int

const (
	NoEdge EdgeKind = iota
	StartEdge
	EndEdge
)

// Edge is a session boundary produced by Session.Observe.
type Edge struct {
	Kind    EdgeKind
	EventID string
	SeqNo   int64
	CarNo   string
}

// NewEventID mints "car-<unix ms>-<6 hex>".
func NewEventID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("car-%d-%s", now.UnixMilli(), hex[:6])
}

// ValidFrameCode reports whether code is three characters of digits or 'F'.
func ValidFrameCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		c := code[i]
		if (c < '0' || c > '9') && c != 'F' {
			return false
		}
	}
	return true
}

// Session is the digit-presence state machine of the number camera. It is
// not safe for concurrent use.
type Session struct {
	endFrames   int
	requireMark bool
	mint        func() string

	state    State
	eventID  string
	seqNo    int64
	best     string
	streak   int
	markSeen bool
}

func NewSession(endFrames int, requireMark bool, lastSeq int64, mint func() string) *Session {
	if endFrames <= 0 {
		endFrames = 1
	}
	return &Session{
		endFrames:   endFrames,
		requireMark: requireMark,
		mint:        mint,
		seqNo:       lastSeq,
		best:        domain.CarNoUnknown,
	}
}

// Observe feeds one detection result and returns the edge it caused.
func (s *Session) Observe(d domain.Detection) Edge {
	if d.Mark {
		s.markSeen = true
	}

	switch s.state {
	case Idle:
		if !d.HasDigit || (s.requireMark && !s.markSeen) {
			return Edge{}
		}
		s.state = Active
		s.eventID = s.mint()
		s.seqNo++
		s.best = domain.CarNoUnknown
		s.streak = 0
		return Edge{Kind: StartEdge, EventID: s.eventID, SeqNo: s.seqNo}

	default:
		if d.HasDigit {
			s.streak = 0
			code := strings.ToUpper(strings.TrimSpace(d.FrameCode))
			if ValidFrameCode(code) && code != domain.CarNoUnknown {
				s.best = code
			}
			return Edge{}
		}
		s.streak++
		if s.streak < s.endFrames {
			return Edge{}
		}
		e := Edge{Kind: EndEdge, EventID: s.eventID, SeqNo: s.seqNo, CarNo: s.best}
		s.state = Idle
		s.eventID = ""
		s.best = domain.CarNoUnknown
		s.streak = 0
		s.markSeen = false
		return e
	}
}

func (s *Session) State() State      { return s.state }
func (s *Session) EventID() string   { return s.eventID }
func (s *Session) BestCarNo() string { return s.best }
func (s *Session) SeqNo() int64      { return s.seqNo }
