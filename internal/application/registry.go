package application

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var errEmptyViewID = errors.New("view id is empty")

// Registry owns one Coordinator per view id. The process composition root
// creates it and hands it to whatever needs to reach a view's coordinator.
//
// Connections hold a view through Acquire/Release; the coordinator is
// disposed when the last holder releases it.
type Registry struct {
	mu           sync.Mutex
	coordinators map[string]*Coordinator
	holders      map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		coordinators: map[string]*Coordinator{},
		holders:      map[string]int{},
	}
}

// GetOrCreate returns the coordinator registered under viewID, building it
// with create on first use. The bool reports whether a new one was created.
func (r *Registry) GetOrCreate(viewID string, create func() (*Coordinator, error)) (*Coordinator, bool, error) {
	viewID = strings.TrimSpace(viewID)
	if viewID == "" {
		return nil, false, errEmptyViewID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getOrCreateLocked(viewID, create)
}

// Acquire is GetOrCreate plus a hold on the view. Each successful Acquire
// must be paired with one Release.
func (r *Registry) Acquire(viewID string, create func() (*Coordinator, error)) (*Coordinator, bool, error) {
	viewID = strings.TrimSpace(viewID)
	if viewID == "" {
		return nil, false, errEmptyViewID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	coordinator, created, err := r.getOrCreateLocked(viewID, create)
	if err != nil {
		return nil, false, err
	}
	r.holders[viewID]++
	return coordinator, created, nil
}

// Release drops one hold on viewID and disposes the coordinator once no
// holder is left. It reports whether the view was disposed.
func (r *Registry) Release(viewID string) bool {
	viewID = strings.TrimSpace(viewID)

	r.mu.Lock()
	if r.holders[viewID] > 1 {
		r.holders[viewID]--
		r.mu.Unlock()
		return false
	}
	coordinator, ok := r.coordinators[viewID]
	delete(r.coordinators, viewID)
	delete(r.holders, viewID)
	r.mu.Unlock()

	if ok {
		coordinator.Close()
	}
	return ok
}

func (r *Registry) getOrCreateLocked(viewID string, create func() (*Coordinator, error)) (*Coordinator, bool, error) {
	if coordinator, ok := r.coordinators[viewID]; ok {
		return coordinator, false, nil
	}

	coordinator, err := create()
	if err != nil {
		return nil, false, err
	}

	r.coordinators[viewID] = coordinator
	return coordinator, true, nil
}

func (r *Registry) Get(viewID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coordinator, ok := r.coordinators[strings.TrimSpace(viewID)]
	return coordinator, ok
}

// Dispose closes the view's coordinator regardless of outstanding holds.
func (r *Registry) Dispose(viewID string) bool {
	viewID = strings.TrimSpace(viewID)

	r.mu.Lock()
	coordinator, ok := r.coordinators[viewID]
	delete(r.coordinators, viewID)
	delete(r.holders, viewID)
	r.mu.Unlock()

	if ok {
		coordinator.Close()
	}
	return ok
}

func (r *Registry) ViewIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.coordinators))
	for id := range r.coordinators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Close() {
	for _, id := range r.ViewIDs() {
		r.Dispose(id)
	}
}
