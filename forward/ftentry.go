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

// Package forward implements the hybrid bridge/router forwarding engine:
// GUID-prefix learning, loop/redundancy suppression, and the InfoSource/
// InfoReply relay construction described in spec §4.3, grounded on
// original_source/apps/dds/src/rtps/rtps_fwd.c.
package forward

import (
	"sync"
	"time"

	"github.com/qeo-rtps/rtpscore/locator"
)

// Mode selects which of an FTEntry's four locator-list slots a lookup
// targets: discovery traffic is split between META (discovery) and USER
// (application data), each further split into multicast and unicast.
type Mode int

const (
	ModeMetaMulticast Mode = iota
	ModeMetaUnicast
	ModeUserMulticast
	ModeUserUnicast
	modeCount
)

// learnedIndex selects which of a mode's two locator lists a particular
// lookup or update targets: index 0 holds the defaults derived from
// discovery, index 1 holds locators learned from a received InfoReply.
const (
	locDefault = 0
	locLearned = 1
)

// MaxForwardTTL is the tick count an FTEntry survives without a fresh
// traffic touch before the aging sweep reclaims it (spec §4.3.4).
const MaxForwardTTL = 30

// FTEntry is one forwarding-table entry, keyed by GUID prefix (spec §3).
type FTEntry struct {
	mu sync.Mutex

	Prefix locator.GUIDPrefix

	// locs holds, per Mode, the [default, learned] locator lists.
	locs [modeCount][2]locator.List

	// Parent links a multi-hop (TCP child) entry to the 1st-hop entry
	// whose locators are authoritative; nil for direct entries.
	Parent *FTEntry
	// NChildren counts entries whose Parent points at this one; when an
	// entry with children is removed, its children are removed too.
	NChildren int

	// Local marks this entry as one of this node's own participants:
	// frames explicitly addressed to it are delivered locally rather
	// than relayed.
	Local bool

	// Kinds is the bitmask of locator kinds usable for this entry.
	Kinds locator.Kind

	// InfoReplyReceived marks that at least one InfoReply has been
	// learned for this prefix, so subsequent sends prefer locLearned.
	InfoReplyReceived bool

	ttl int
}

// NewFTEntry returns a fresh entry for prefix with a full TTL.
func NewFTEntry(prefix locator.GUIDPrefix) *FTEntry {
	return &FTEntry{Prefix: prefix, ttl: MaxForwardTTL}
}

// Touch resets the entry's TTL to MaxForwardTTL — called on every send or
// receive that references this entry (spec §4.3.4).
func (e *FTEntry) Touch() {
	e.mu.Lock()
	e.ttl = MaxForwardTTL
	e.mu.Unlock()
}

// Age decrements the entry's TTL by one tick and reports whether it has
// expired (ttl <= 0). The entry-table owner calls this on its periodic
// sweep; it never fires on an entry touched since the last sweep.
func (e *FTEntry) Age() (expired bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ttl--
	return e.ttl <= 0
}

// TTL reports the entry's current tick count, for diagnostics.
func (e *FTEntry) TTL() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ttl
}

// SetLocators replaces the default (index 0) locator list for mode.
func (e *FTEntry) SetLocators(mode Mode, locs locator.List) {
	e.mu.Lock()
	e.locs[mode][locDefault] = locs
	e.mu.Unlock()
}

// LearnLocators replaces the learned (index 1) locator list for mode,
// recording that an InfoReply was received — spec §4.3.1's "Setting an
// InfoReply shifts subsequent sends to this peer to the learned
// locators."
func (e *FTEntry) LearnLocators(mode Mode, locs locator.List) {
	e.mu.Lock()
	e.locs[mode][locLearned] = locs
	e.InfoReplyReceived = true
	e.mu.Unlock()
}

// Destinations returns the effective locator list for mode: the entry's
// own locators if it has no parent, the authoritative parent's (walking
// multiple hops) if it does, preferring learned (index 1) locators over
// defaults whenever the entry has received an InfoReply, and falling
// back to multicast locators if unicast is empty (spec §3's UC-preferred
// default, per DESIGN.md's Open Question decision).
func (e *FTEntry) Destinations(mode Mode) locator.List {
	authoritative := e
	for authoritative.Parent != nil {
		authoritative = authoritative.Parent
	}

	authoritative.mu.Lock()
	defer authoritative.mu.Unlock()

	ucMode, mcMode := mode, mode
	switch mode {
	case ModeMetaMulticast, ModeMetaUnicast:
		ucMode, mcMode = ModeMetaUnicast, ModeMetaMulticast
	case ModeUserMulticast, ModeUserUnicast:
		ucMode, mcMode = ModeUserUnicast, ModeUserMulticast
	}

	idx := locDefault
	if authoritative.InfoReplyReceived {
		idx = locLearned
	}
	if uc := authoritative.locs[ucMode][idx]; len(uc) > 0 {
		return uc
	}
	if uc := authoritative.locs[ucMode][locDefault]; len(uc) > 0 {
		return uc
	}
	return authoritative.locs[mcMode][locDefault]
}

// Table is the forwarding table: a GUID-prefix-keyed map of FTEntry plus
// its aging sweep.
type Table struct {
	mu      sync.Mutex
	entries map[locator.GUIDPrefix]*FTEntry
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[locator.GUIDPrefix]*FTEntry)}
}

// GetOrCreate returns the entry for prefix, creating one with a fresh TTL
// if absent.
func (t *Table) GetOrCreate(prefix locator.GUIDPrefix) *FTEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[prefix]; ok {
		return e
	}
	e := NewFTEntry(prefix)
	t.entries[prefix] = e
	return e
}

// Lookup returns the entry for prefix, or nil if absent.
func (t *Table) Lookup(prefix locator.GUIDPrefix) *FTEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[prefix]
}

// Remove deletes the entry for prefix and recursively removes any entry
// whose Parent is it, matching the original's "when the parent
// disappears the child is also removed" rule (spec §4.3.4).
func (t *Table) Remove(prefix locator.GUIDPrefix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(prefix)
}

func (t *Table) removeLocked(prefix locator.GUIDPrefix) {
	e, ok := t.entries[prefix]
	if !ok {
		return
	}
	delete(t.entries, prefix)
	for childPrefix, child := range t.entries {
		if child.Parent == e {
			t.removeLocked(childPrefix)
		}
	}
}

// LinkChild sets child's parent to parent, incrementing the parent's
// child count (spec §4.3.4, "Nth hop: must be a child node -> find
// parent").
func (t *Table) LinkChild(parent, child *FTEntry) {
	child.mu.Lock()
	child.Parent = parent
	child.mu.Unlock()

	parent.mu.Lock()
	parent.NChildren++
	parent.mu.Unlock()
}

// Sweep ages every entry by one tick, removing (and cascading to
// children of) any that expire. Sweep is synchronous.
func (t *Table) Sweep() (expired []locator.GUIDPrefix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for prefix, e := range t.entries {
		if e.Age() {
			expired = append(expired, prefix)
		}
	}
	for _, prefix := range expired {
		t.removeLocked(prefix)
	}
	return expired
}

// Range calls fn once per tracked entry, in no particular order,
// holding the table lock for the duration — fn must not call back into
// t. Used by the debug CLI's forwarding-table dump (spec §6's
// rfwd_dump equivalent).
func (t *Table) Range(fn func(prefix locator.GUIDPrefix, e *FTEntry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for prefix, e := range t.entries {
		fn(prefix, e)
	}
}

// Len reports the number of entries currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RunAging runs Sweep every interval until stop is closed, the
// goroutine-per-periodic-task translation of the original's aging timer
// (spec §4.3.4/§9).
func (t *Table) RunAging(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-stop:
			return
		}
	}
}
