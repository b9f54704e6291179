// Copyright 2024 The rtpscore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pool provides a reference-counted, keyed object pool. It is the
// Go-idiomatic replacement for the source DDS core's raw-refcounted data
// buffers and shared IP connection contexts (spec §3, §5: "Data buffers
// and cache changes are reference-counted because they may be enqueued on
// multiple outbound queues simultaneously").
//
// The API mirrors the teacher's UsagePool (its source is absent from the
// retrieval pack; this is reconstructed from usagepool_test.go's observed
// behavior): LoadOrNew constructs-or-reuses a value under a key and bumps
// its reference count, Delete decrements it and runs the Destructor when
// the count reaches zero, and References reports the current count.
package pool

import (
	"sync"
)

// Destructor is implemented by values stored in a Pool. Destruct is called
// exactly once, when the last reference is released.
type Destructor interface {
	Destruct() error
}

type entry struct {
	value Destructor
	refs  int
}

// Pool is a keyed store of reference-counted values. The zero value is not
// usable; construct with New.
type Pool struct {
	mu      sync.Mutex
	entries map[any]*entry
}

// New returns an empty, ready to use Pool.
func New() *Pool {
	return &Pool{entries: make(map[any]*entry)}
}

// LoadOrNew returns the existing value for key, incrementing its reference
// count, or calls construct to make a new one, storing it with an initial
// reference count of 1. loaded reports whether an existing value was
// returned. If construct returns an error, no entry is stored and the
// error is returned unchanged.
func (p *Pool) LoadOrNew(key any, construct func() (Destructor, error)) (value Destructor, loaded bool, err error) {
	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.refs++
		v := e.value
		p.mu.Unlock()
		return v, true, nil
	}
	p.mu.Unlock()

	v, err := construct()
	if err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		// Lost a race with a concurrent constructor; keep the winner,
		// tear down ours, and join as a new reference.
		e.refs++
		winner := e.value
		p.mu.Unlock()
		_ = v.Destruct()
		return winner, true, nil
	}
	p.entries[key] = &entry{value: v, refs: 1}
	p.mu.Unlock()
	return v, false, nil
}

// LoadOrStore stores value under key with an initial reference count of 1
// if key is not already present; otherwise it increments the existing
// entry's reference count and returns the existing value. loaded reports
// whether an existing value was returned.
func (p *Pool) LoadOrStore(key any, value Destructor) (actual Destructor, loaded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		e.refs++
		return e.value, true
	}
	p.entries[key] = &entry{value: value, refs: 1}
	return value, false
}

// References returns the current reference count for key and whether key
// is present at all.
func (p *Pool) References(key any) (refs int, exists bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return 0, false
	}
	return e.refs, true
}

// Delete decrements the reference count for key. When the count reaches
// zero the entry is removed and its Destruct method is called (outside
// the pool's lock, so Destruct may itself touch the pool). deleted
// reports whether this call actually removed and destructed the entry.
func (p *Pool) Delete(key any) (deleted bool, err error) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return false, nil
	}
	e.refs--
	if e.refs > 0 {
		p.mu.Unlock()
		return false, nil
	}
	delete(p.entries, key)
	p.mu.Unlock()

	return true, e.value.Destruct()
}

// Range calls f for every key currently in the pool. Range stops early if
// f returns false. f must not call back into the Pool.
func (p *Pool) Range(f func(key any, value Destructor, refs int) bool) {
	p.mu.Lock()
	snapshot := make(map[any]*entry, len(p.entries))
	for k, v := range p.entries {
		snapshot[k] = v
	}
	p.mu.Unlock()

	for k, e := range snapshot {
		if !f(k, e.value, e.refs) {
			return
		}
	}
}

// Len returns the number of distinct keys currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
