package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/septivank/fleetwatch/internal/db"
)

type sampleKey struct {
	boardID int64
	sess    string
	seq     int64
}

type armKey struct {
	number int64
	ts     int64
	arms   int
	armSec float64
	qstab  float64
}

// MemoryStore is an in-process Store used by tests and STORE_DRIVER=memory
type MemoryStore struct {
	mu        sync.Mutex
	boards    map[int64]*db.Board
	byNumber  map[int64]int64
	locks     map[int64]*sync.Mutex
	samples   []db.Sample
	keyed     map[sampleKey]int
	arm       []db.ArmReport
	armKeys   map[armKey]struct{}
	nextBoard int64
	nextID    int64
	now       func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		boards:   make(map[int64]*db.Board),
		byNumber: make(map[int64]int64),
		locks:    make(map[int64]*sync.Mutex),
		keyed:    make(map[sampleKey]int),
		armKeys:  make(map[armKey]struct{}),
		now:      time.Now,
	}
}

// SetClock overrides the clock used for created_at columns
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) UpsertBoard(_ context.Context, number int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byNumber[number]; ok {
		return id, false, nil
	}

	m.nextBoard++
	now := m.now().UTC()
	b := &db.Board{
		ID:           m.nextBoard,
		Number:       number,
		CreatedAt:    now,
		OfflineSince: &now,
	}
	m.boards[b.ID] = b
	m.byNumber[number] = b.ID
	m.locks[b.ID] = &sync.Mutex{}
	return b.ID, true, nil
}

func (m *MemoryStore) GetBoard(_ context.Context, id int64) (*db.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.boards[id]
	if !ok {
		return nil, ErrBoardNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) GetBoardByNumber(ctx context.Context, number int64) (*db.Board, error) {
	m.mu.Lock()
	id, ok := m.byNumber[number]
	m.mu.Unlock()
	if !ok {
		return nil, ErrBoardNotFound
	}
	return m.GetBoard(ctx, id)
}

func (m *MemoryStore) ListBoards(_ context.Context) ([]db.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]db.Board, 0, len(m.boards))
	for _, b := range m.boards {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// WithBoardLock serializes callers per board like a row lock would
func (m *MemoryStore) WithBoardLock(ctx context.Context, id int64, fn func(b *db.Board) error) error {
	m.mu.Lock()
	lock, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return ErrBoardNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	b, err := m.GetBoard(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		return err
	}

	m.mu.Lock()
	m.boards[id] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SweepCandidates(_ context.Context, staleBefore time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for id, b := range m.boards {
		if !b.IsOnline && b.OfflineSince == nil {
			continue
		}
		if b.LastTelemetryAt != nil && b.LastTelemetryAt.After(staleBefore) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) Put(_ context.Context, s *db.Sample) (PutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.HasKey() {
		key := sampleKey{boardID: s.BoardID, sess: *s.Sess, seq: *s.Seq}
		if idx, ok := m.keyed[key]; ok {
			id := m.samples[idx].ID
			cp := *s
			cp.ID = id
			m.samples[idx] = cp
			s.ID = id
			return PutResult{ID: id, Inserted: false}, nil
		}
		m.keyed[key] = len(m.samples)
	}

	m.nextID++
	cp := *s
	cp.ID = m.nextID
	m.samples = append(m.samples, cp)
	s.ID = cp.ID
	return PutResult{ID: cp.ID, Inserted: true}, nil
}

func (m *MemoryStore) Query(_ context.Context, boardID int64, f Filter) ([]db.Sample, error) {
	m.mu.Lock()
	var out []db.Sample
	for _, s := range m.samples {
		if s.BoardID != boardID {
			continue
		}
		if f.Session != nil && (s.Sess == nil || *s.Sess != *f.Session) {
			continue
		}
		if f.From != nil && s.TS.Before(*f.From) {
			continue
		}
		if f.To != nil && s.TS.After(*f.To) {
			continue
		}
		if f.RequirePosition && !s.HasPosition() {
			continue
		}
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TS.Equal(out[j].TS) {
			return out[i].ID < out[j].ID
		}
		return out[i].TS.Before(out[j].TS)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		if f.Latest {
			out = out[len(out)-f.Limit:]
		} else {
			out = out[:f.Limit]
		}
	}
	return out, nil
}

func (m *MemoryStore) LatestSession(ctx context.Context, boardID int64, from, to time.Time) (string, error) {
	samples, err := m.Query(ctx, boardID, Filter{From: &from, To: &to})
	if err != nil {
		return "", err
	}
	for i := len(samples) - 1; i >= 0; i-- {
		if s := samples[i].Sess; s != nil && *s != "" {
			return *s, nil
		}
	}
	return "", nil
}

func (m *MemoryStore) Sessions(ctx context.Context, boardID int64) ([]SessionSummary, error) {
	samples, err := m.Query(ctx, boardID, Filter{})
	if err != nil {
		return nil, err
	}

	index := make(map[string]*SessionSummary)
	var order []string
	for _, s := range samples {
		if s.Sess == nil || *s.Sess == "" {
			continue
		}
		sum, ok := index[*s.Sess]
		if !ok {
			sum = &SessionSummary{Session: *s.Sess, First: s.TS, Last: s.TS}
			index[*s.Sess] = sum
			order = append(order, *s.Sess)
		}
		if s.TS.Before(sum.First) {
			sum.First = s.TS
		}
		if s.TS.After(sum.Last) {
			sum.Last = s.TS
		}
		sum.Count++
	}

	out := make([]SessionSummary, 0, len(order))
	for _, k := range order {
		out = append(out, *index[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].First.Before(out[j].First) })
	return out, nil
}

func (m *MemoryStore) InsertArmReports(_ context.Context, reports []db.ArmReport) ([]db.ArmReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inserted []db.ArmReport
	for _, rep := range reports {
		key := armKey{rep.BoardNumber, rep.TS.UnixNano(), rep.Arms, rep.ArmSec, rep.QStabSec}
		if _, dup := m.armKeys[key]; dup {
			continue
		}
		m.armKeys[key] = struct{}{}

		m.nextID++
		rep.ID = m.nextID
		rep.CreatedAt = m.now().UTC()
		if id, ok := m.byNumber[rep.BoardNumber]; ok {
			boardID := id
			rep.BoardID = &boardID
		}
		m.arm = append(m.arm, rep)
		inserted = append(inserted, rep)
	}
	return inserted, nil
}

// ArmReports returns every stored ARM report
func (m *MemoryStore) ArmReports() []db.ArmReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.ArmReport(nil), m.arm...)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
