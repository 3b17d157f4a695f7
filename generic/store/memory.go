// Package store provides in-memory implementations of the generic store interfaces.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/clinic-engine/generic"
)

// =============================================================================
// MEMORY VERSIONS - In-memory VersionStore (for testing/dev)
// =============================================================================

type Versions[K ~string, V any] struct {
	mu       sync.RWMutex
	versions map[K][]generic.Version[K, V] // sorted by EffectiveFrom ascending
}

func NewVersions[K ~string, V any]() *Versions[K, V] {
	return &Versions[K, V]{versions: make(map[K][]generic.Version[K, V])}
}

// Insert appends a version. Append-only.
func (m *Versions[K, V]) Insert(_ context.Context, v generic.Version[K, V]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vs := m.versions[v.Key]

	// Binary search for insertion point
	i := sort.Search(len(vs), func(i int) bool {
		return !vs[i].EffectiveFrom.Before(v.EffectiveFrom)
	})
	if i < len(vs) && vs[i].EffectiveFrom.Equal(v.EffectiveFrom) {
		return generic.ErrDuplicateVersion
	}

	vs = append(vs, generic.Version[K, V]{})
	copy(vs[i+1:], vs[i:])
	vs[i] = v
	m.versions[v.Key] = vs
	return nil
}

func (m *Versions[K, V]) AsOf(_ context.Context, key K, date generic.Date) (generic.Version[K, V], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs := m.versions[key]
	// First version strictly after date; the one before it is in effect.
	i := sort.Search(len(vs), func(i int) bool {
		return vs[i].EffectiveFrom.After(date)
	})
	if i == 0 {
		return generic.Version[K, V]{}, generic.ErrNoVersion
	}
	return vs[i-1], nil
}

func (m *Versions[K, V]) History(_ context.Context, key K) ([]generic.Version[K, V], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs := m.versions[key]
	result := make([]generic.Version[K, V], len(vs))
	for i, v := range vs {
		result[len(vs)-1-i] = v
	}
	return result, nil
}

// =============================================================================
// MEMORY INTERVALS - In-memory IntervalTxStore
// =============================================================================

type Intervals struct {
	mu        sync.RWMutex
	intervals map[string]generic.Interval // by id
}

func NewIntervals() *Intervals {
	return &Intervals{intervals: make(map[string]generic.Interval)}
}

// LockSubject is a no-op: WithTx already holds the store lock.
func (m *Intervals) LockSubject(_ context.Context, _ string) error { return nil }

func (m *Intervals) BySubject(_ context.Context, subjectID string) ([]generic.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bySubjectLocked(subjectID), nil
}

func (m *Intervals) ActiveInScope(_ context.Context, scopeID string, date generic.Date) ([]generic.Interval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeInScopeLocked(scopeID, date), nil
}

func (m *Intervals) Insert(_ context.Context, iv generic.Interval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(iv)
}

func (m *Intervals) Close(_ context.Context, id string, end generic.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(id, end)
}

func (m *Intervals) bySubjectLocked(subjectID string) []generic.Interval {
	var result []generic.Interval
	for _, iv := range m.intervals {
		if iv.SubjectID == subjectID {
			result = append(result, copyInterval(iv))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Start.After(result[j].Start)
	})
	return result
}

func (m *Intervals) activeInScopeLocked(scopeID string, date generic.Date) []generic.Interval {
	var result []generic.Interval
	for _, iv := range m.intervals {
		if iv.ScopeID == scopeID && iv.Contains(date) {
			result = append(result, copyInterval(iv))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubjectID < result[j].SubjectID
	})
	return result
}

func (m *Intervals) insertLocked(iv generic.Interval) error {
	if iv.IsOpen() {
		for _, existing := range m.intervals {
			if existing.SubjectID == iv.SubjectID && existing.IsOpen() {
				return generic.ErrOverlap
			}
		}
	}
	m.intervals[iv.ID] = copyInterval(iv)
	return nil
}

func (m *Intervals) closeLocked(id string, end generic.Date) error {
	iv, ok := m.intervals[id]
	if !ok || !iv.IsOpen() {
		return &generic.NotFoundError{Kind: "open interval", ID: id}
	}
	iv.End = &end
	m.intervals[id] = iv
	return nil
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Intervals) WithTx(_ context.Context, fn func(generic.IntervalStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]generic.Interval, len(m.intervals))
	for k, v := range m.intervals {
		snapshot[k] = copyInterval(v)
	}

	if err := fn(&intervalsTxView{parent: m}); err != nil {
		m.intervals = snapshot
		return err
	}
	return nil
}

// intervalsTxView runs inside WithTx and must not take the lock again.
type intervalsTxView struct {
	parent *Intervals
}

func (v *intervalsTxView) LockSubject(_ context.Context, _ string) error { return nil }

func (v *intervalsTxView) BySubject(_ context.Context, subjectID string) ([]generic.Interval, error) {
	return v.parent.bySubjectLocked(subjectID), nil
}

func (v *intervalsTxView) ActiveInScope(_ context.Context, scopeID string, date generic.Date) ([]generic.Interval, error) {
	return v.parent.activeInScopeLocked(scopeID, date), nil
}

func (v *intervalsTxView) Insert(_ context.Context, iv generic.Interval) error {
	return v.parent.insertLocked(iv)
}

func (v *intervalsTxView) Close(_ context.Context, id string, end generic.Date) error {
	return v.parent.closeLocked(id, end)
}

func copyInterval(iv generic.Interval) generic.Interval {
	if iv.End != nil {
		end := *iv.End
		iv.End = &end
	}
	return iv
}
