// Object registry
//
// The registry holds the objects of the current print in the order they
// first appear in the prepared G-code file. It is rebuilt by one scan per
// print and emptied when the print ends.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package objects

import (
	"sync"
	"sync/atomic"

	"cancelobject/pkg/errors"
	"cancelobject/pkg/log"
)

// Record is a read-only view of one object.
type Record struct {
	Name      string `json:"object"`
	ID        int    `json:"id"`
	Active    bool   `json:"active"`
	Cancelled bool   `json:"cancelled"`
}

// entry is the mutable registry slot. cancelled is read on the queue hot
// path without the registry lock.
type entry struct {
	name      string
	id        int
	active    atomic.Bool
	cancelled atomic.Bool
}

func (e *entry) record() Record {
	return Record{
		Name:      e.name,
		ID:        e.id,
		Active:    e.active.Load(),
		Cancelled: e.cancelled.Load(),
	}
}

// Registry is the ordered, de-duplicated object list of one print.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry
	active  *entry

	log *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.GetLogger("objects")
	}
	return &Registry{
		byName: make(map[string]*entry),
		log:    logger,
	}
}

// Reset empties the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return
	}
	r.entries = nil
	r.byName = make(map[string]*entry)
	r.active = nil
}

// Len returns the number of objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// add appends name unless it is already present. It reports whether a new
// record was created.
func (r *Registry) add(name string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[name]; ok {
		return e.record(), false
	}
	e := &entry{name: name, id: len(r.entries)}
	r.entries = append(r.entries, e)
	r.byName[name] = e
	return e.record(), true
}

// LookupByName returns the record named name.
func (r *Registry) LookupByName(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return Record{}, false
	}
	return e.record(), true
}

// LookupByID returns the record with the given id.
func (r *Registry) LookupByID(id int) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// ids are dense and equal to the slice index
	if id < 0 || id >= len(r.entries) {
		return Record{}, false
	}
	return r.entries[id].record(), true
}

// IsCancelled reports the cancellation flag of name and whether the object
// exists.
func (r *Registry) IsCancelled(name string) (cancelled, found bool) {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return false, false
	}
	return e.cancelled.Load(), true
}

// MarkCancelled flags name as cancelled. Cancelling twice is not an error.
func (r *Registry) MarkCancelled(name string) error {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return errors.NotFoundError(name)
	}
	if e.cancelled.CompareAndSwap(false, true) {
		r.log.WithFields(log.Fields{"object": name, "id": e.id}).Info("object cancelled")
	}
	return nil
}

// SetActive moves the display-only active flag to name. Unknown names clear
// it.
func (r *Registry) SetActive(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		r.active.active.Store(false)
		r.active = nil
	}
	if e, ok := r.byName[name]; ok {
		e.active.Store(true)
		r.active = e
	}
}

// Snapshot returns a copy of every record in discovery order. The result is
// never nil.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.record()
	}
	return out
}

// Cancelled returns the names of cancelled objects in discovery order.
func (r *Registry) Cancelled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, e := range r.entries {
		if e.cancelled.Load() {
			names = append(names, e.name)
		}
	}
	return names
}
