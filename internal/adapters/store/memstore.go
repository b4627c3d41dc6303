package store

import (
	"context"
	"sync"
	"time"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

const (
	defaultRetention  = 10 * time.Minute
	defaultMaxEmitted = 4096
)

// MemStore keeps records in process memory. It backs tests and single-box
// deployments that do not need the records to outlive the process.
//
// Displayed rows stay around for a retention window so late patches still
// merge into them, and at most maxEmitted of them are kept.
type MemStore struct {
	mu         sync.Mutex
	rows       map[string]*domain.EventRecord
	order      []*domain.EventRecord
	emitted    map[string]time.Time
	nextID     int64
	lastSeq    int64
	retention  time.Duration
	maxEmitted int
	now        func() time.Time
}

type MemOption func(*MemStore)

// WithRetention sets how long a displayed row is kept.
func WithRetention(d time.Duration) MemOption {
	return func(m *MemStore) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithMaxEmitted caps the number of displayed rows kept; the oldest go first.
func WithMaxEmitted(n int) MemOption {
	return func(m *MemStore) {
		if n > 0 {
			m.maxEmitted = n
		}
	}
}

func NewMemStore(opts ...MemOption) *MemStore {
	m := &MemStore{
		rows:       make(map[string]*domain.EventRecord),
		emitted:    make(map[string]time.Time),
		retention:  defaultRetention,
		maxEmitted: defaultMaxEmitted,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemStore) Name() string { return "memory" }

func (m *MemStore) WriteBatch(patches []*domain.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range patches {
		r, ok := m.rows[p.EventID]
		if !ok {
			m.nextID++
			r = domain.NewEventRecord(p.EventID, m.now())
			r.ID = m.nextID
			m.rows[p.EventID] = r
			m.order = append(m.order, r)
		}
		r.Apply(p)
		if r.SeqNo > m.lastSeq {
			m.lastSeq = r.SeqNo
		}
	}
	return nil
}

// PollReady marks and returns up to limit ready records in insertion order.
func (m *MemStore) PollReady(_ context.Context, limit int) ([]domain.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EventRecord
	for _, r := range m.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !r.Ready() {
			continue
		}
		r.Flags |= domain.FlagUI
		m.emitted[r.EventID] = m.now()
		out = append(out, r.Clone())
	}
	m.pruneLocked()
	return out, nil
}

// pruneLocked drops displayed rows past the retention window, then the
// oldest displayed rows above maxEmitted.
func (m *MemStore) pruneLocked() {
	now := m.now()
	excess := len(m.emitted) - m.maxEmitted
	keep := m.order[:0]
	for _, r := range m.order {
		at, shown := m.emitted[r.EventID]
		if shown && (excess > 0 || now.Sub(at) >= m.retention) {
			delete(m.rows, r.EventID)
			delete(m.emitted, r.EventID)
			excess--
			continue
		}
		keep = append(keep, r)
	}
	clear(m.order[len(keep):])
	m.order = keep
}

// Len returns the number of rows held.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

func (m *MemStore) Finalize(_ context.Context, cutoffs ports.FinalizeCutoffs) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var forced int64
	for _, rule := range finalizeRules {
		cutoff := rule.cutoff(cutoffs)
		if cutoff.IsZero() {
			continue
		}
		for _, r := range m.order {
			if r.Flags.Has(domain.FlagUI) || r.Flags.Has(rule.flag) || r.CreatedAt.After(cutoff) {
				continue
			}
			for _, col := range rule.text {
				if r.Text[col] == "" {
					r.Text[col] = rule.textSentinel
				}
			}
			for _, col := range rule.levels {
				if _, ok := r.Levels[col]; !ok {
					r.Levels[col] = 0
				}
			}
			r.Flags |= rule.flag | rule.also
			forced++
		}
	}
	return forced, nil
}

// LastSeqNo survives pruning: it is the highest seq_no ever written.
func (m *MemStore) LastSeqNo(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq, nil
}

// Get returns a copy of the record for eventID.
func (m *MemStore) Get(eventID string) (domain.EventRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[eventID]
	if !ok {
		return domain.EventRecord{}, false
	}
	return r.Clone(), true
}

var _ ports.Store = (*MemStore)(nil)
