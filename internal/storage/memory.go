package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qzbxw/velox-sub000/internal/monitor"
)

// MemoryStore keeps states, snapshots and alerts in process memory. It backs runs
// without a database; nothing survives a restart.
type MemoryStore struct {
	mu        sync.Mutex
	states    map[string][]byte
	snapshots []SnapshotRecord
	alerts    []AlertRecord
	nextID    int64
	now       func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte), now: time.Now}
}

// LoadState returns a copy of the stored state, or ErrStateNotFound.
func (m *MemoryStore) LoadState(_ context.Context, group string) (monitor.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.states[group]
	if !ok {
		return monitor.NewState(), ErrStateNotFound
	}
	return monitor.DecodeState(raw), nil
}

// SaveState stores the encoded document so callers cannot alias it.
func (m *MemoryStore) SaveState(_ context.Context, group string, state monitor.State) error {
	raw, err := state.Encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.states[group] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// InsertSnapshot appends rec.
func (m *MemoryStore) InsertSnapshot(_ context.Context, rec SnapshotRecord) (SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.id()
	rec.CreatedAt = m.now().UTC()
	m.snapshots = append(m.snapshots, rec)
	return rec, nil
}

// ListRecentSnapshots returns the group's newest snapshots first.
func (m *MemoryStore) ListRecentSnapshots(_ context.Context, group string, limit int) ([]SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SnapshotRecord
	for _, rec := range m.snapshots {
		if rec.Group == group {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListSnapshotsBetween returns the group's snapshots in [from, to), oldest first.
func (m *MemoryStore) ListSnapshotsBetween(_ context.Context, group string, from, to time.Time, limit int) ([]SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SnapshotRecord
	for _, rec := range m.snapshots {
		if rec.Group == group && !rec.TakenAt.Before(from) && rec.TakenAt.Before(to) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSnapshotsBefore drops snapshots taken before olderThan.
func (m *MemoryStore) DeleteSnapshotsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.snapshots[:0]
	for _, rec := range m.snapshots {
		if !rec.TakenAt.Before(olderThan) {
			kept = append(kept, rec)
		}
	}
	removed := int64(len(m.snapshots) - len(kept))
	m.snapshots = kept
	return removed, nil
}

// InsertAlert appends alert.
func (m *MemoryStore) InsertAlert(_ context.Context, alert AlertRecord) (AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert.ID = m.id()
	alert.CreatedAt = m.now().UTC()
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

// ListRecentAlerts returns newest alerts first; an empty group matches all.
func (m *MemoryStore) ListRecentAlerts(_ context.Context, group string, limit int) ([]AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AlertRecord
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if group == "" || m.alerts[i].Group == group {
			out = append(out, m.alerts[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteAlertsBefore drops alerts created before olderThan.
func (m *MemoryStore) DeleteAlertsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	for _, rec := range m.alerts {
		if !rec.CreatedAt.Before(olderThan) {
			kept = append(kept, rec)
		}
	}
	removed := int64(len(m.alerts) - len(kept))
	m.alerts = kept
	return removed, nil
}

var (
	_ StateStore    = (*MemoryStore)(nil)
	_ SnapshotStore = (*MemoryStore)(nil)
	_ AlertStore    = (*MemoryStore)(nil)
)
