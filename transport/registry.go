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

// Package transport implements the transport registry: the single point
// through which every locator kind (UDP, TCP, and their secure overlays)
// is registered, bound, and driven for send/receive, and the
// update_begin/add_locator/update_end redundancy-marking cycle that lets
// a domain's address set be rebuilt without tearing down connections
// that are still valid (spec §4.1).
//
// This is modelled directly on the teacher's module registry
// (modules.go's register-by-key, lookup-by-key pattern) fused with its
// listener-sharing machinery (listen.go/listeners.go), generalized from
// "one HTTP listener per address" to "one registered vtable per locator
// kind, reference-counted per bound locator".
package transport

import (
	"fmt"
	"sync"

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/wire"
	"go.uber.org/zap"
)

// VTable is the set of operations a locator-kind implementation (UDP,
// TCP, DTLS-over-UDP, TLS-over-TCP) must provide to be driven by the
// registry's send path and lifecycle hooks.
type VTable interface {
	// Send transmits msgs to the single locator dest on behalf of id.
	Send(id uint32, dest locator.Locator, msgs []*wire.Message) error
	// SetParameters applies a kind-specific, opaque parameter blob
	// (e.g. TCP's AllowShare switch, DTLS's idle-watchdog interval).
	SetParameters(params any) error
	// GetParameters returns the kind's current opaque parameter blob.
	GetParameters() any
	// Close tears down every connection this vtable owns.
	Close() error
}

// EntryID identifies one bound locator's owning connection/listener.
// Zero means "unbound".
type EntryID uint32

// boundLocator is one (domain, locator) binding tracked by the registry,
// used to drive the update_begin/add_locator/update_end redundancy cycle
// of spec §4.1.
type boundLocator struct {
	domain    uint32
	loc       locator.Locator
	id        EntryID
	serve     bool
	redundant bool
}

// Registry is the transport registry of spec §4.1: it owns one VTable per
// Kind, the set of locators currently bound per domain, and the
// low-level send dispatch that inspects a destination's kind/security
// flags to pick UDP, TCP, DTLS, or TLS.
type Registry struct {
	log *zap.Logger

	mu      sync.RWMutex
	vtables map[slot]VTable
	bound   map[locator.LocatorKey]*boundLocator

	// forwardFn, when non-nil, makes send() re-enter the forwarder
	// instead of transmitting directly — spec §4.1: "When forwarding is
	// globally enabled it instead calls the forwarder, which decides
	// which outbound destinations apply and ultimately re-enters send
	// for each."
	forwardFn func(id uint32, dest locator.List, msgs []*wire.Message) error
}

// New returns an empty Registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:     log,
		vtables: make(map[slot]VTable),
		bound:   make(map[locator.LocatorKey]*boundLocator),
	}
}

// slot is the lookup key for a registered vtable: a locator kind plus,
// for secure locators, which overlay protocol serves it. DTLS registers
// under (KindUDPv4/v6, SecureDTLS); TLS under (KindTCPv4/v6, SecureTLS);
// everything else registers under SecureNone.
type slot struct {
	kind   locator.Kind
	sproto locator.SecureProtocol
}

func slotOf(l locator.Locator) slot {
	if l.Flags&locator.FlagSecure != 0 {
		return slot{kind: l.Kind, sproto: l.SProto}
	}
	return slot{kind: l.Kind, sproto: locator.SecureNone}
}

// Register installs the VTable implementation for kind, optionally under
// a secure overlay protocol (pass locator.SecureNone for the cleartext
// UDP/TCP vtables). Re-registering a slot replaces the previous vtable;
// callers must Unregister first if they want the old one's Close to run.
func (r *Registry) Register(kind locator.Kind, sproto locator.SecureProtocol, vt VTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vtables[slot{kind: kind, sproto: sproto}] = vt
}

// Unregister removes and closes the VTable for (kind, sproto), if any.
func (r *Registry) Unregister(kind locator.Kind, sproto locator.SecureProtocol) error {
	key := slot{kind: kind, sproto: sproto}
	r.mu.Lock()
	vt, ok := r.vtables[key]
	delete(r.vtables, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return vt.Close()
}

// SetForwarder installs the hook used by Send when global forwarding is
// enabled. Passing nil disables forwarding re-entry.
func (r *Registry) SetForwarder(fn func(id uint32, dest locator.List, msgs []*wire.Message) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwardFn = fn
}

// SetParameters forwards an opaque parameter blob to (kind, sproto)'s
// vtable.
func (r *Registry) SetParameters(kind locator.Kind, sproto locator.SecureProtocol, params any) error {
	r.mu.RLock()
	vt, ok := r.vtables[slot{kind: kind, sproto: sproto}]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no vtable registered for kind %s", kind)
	}
	return vt.SetParameters(params)
}

// GetParameters returns (kind, sproto)'s vtable's current opaque
// parameter blob.
func (r *Registry) GetParameters(kind locator.Kind, sproto locator.SecureProtocol) (any, error) {
	r.mu.RLock()
	vt, ok := r.vtables[slot{kind: kind, sproto: sproto}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: no vtable registered for kind %s", kind)
	}
	return vt.GetParameters(), nil
}

// GatherLocators returns every locator currently bound for domain whose
// Flags indicate the requested traffic class (FlagMeta or FlagData),
// split into unicast (uc) and multicast (mc) lists, plus dst, the
// targets for SPDP/SEDP broadcast (every matching bound locator, serving
// or not, regardless of uni/multicast — spec §4.3.1's "every configured
// dst_locs of the receiving domain").
func (r *Registry) GatherLocators(domain uint32, class locator.Flags) (uc, mc, dst locator.List) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bound {
		if b.domain != domain || b.loc.Flags&class == 0 {
			continue
		}
		dst = append(dst, b.loc)
		if b.loc.Flags&locator.FlagMulticast != 0 {
			mc = append(mc, b.loc)
		} else {
			uc = append(uc, b.loc)
		}
	}
	return uc, mc, dst
}

// LocatorsUpdate reports the bound locator set for domain as of now, as
// a plain list in no particular order — used by discovery to seed a fresh participant's own
// reachable-locator set (spec §4.3, locator_add/remove).
func (r *Registry) LocatorsUpdate(domain uint32) locator.List {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out locator.List
	for _, b := range r.bound {
		if b.domain == domain {
			out = append(out, b.loc)
		}
	}
	return out
}

// AddLocator binds loc for domain under id, optionally marking it as a
// serving (listening) locator rather than a pure destination. If loc was
// already bound and marked redundant by a preceding UpdateBegin, the
// redundant flag is cleared instead of creating a duplicate entry — the
// core of spec §4.1's "subsequent add_locator calls during the update
// clear the flag on still-valid locators".
func (r *Registry) AddLocator(domain uint32, loc locator.Locator, id EntryID, serve bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := loc.Key()
	if existing, ok := r.bound[key]; ok && existing.domain == domain {
		existing.redundant = false
		existing.id = id
		existing.serve = serve
		return
	}
	r.bound[key] = &boundLocator{domain: domain, loc: loc, id: id, serve: serve}
}

// RemoveLocator unbinds loc, regardless of its redundant marking.
func (r *Registry) RemoveLocator(id EntryID, loc locator.Locator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := loc.Key()
	if b, ok := r.bound[key]; ok && b.id == id {
		delete(r.bound, key)
	}
}

// UpdateBegin marks every locator currently bound for domain as
// redundant. Locators re-added via AddLocator before the matching
// UpdateEnd have their redundant flag cleared and survive; anything
// still marked redundant at UpdateEnd is destroyed. This lets a domain's
// address set be rebuilt from a fresh discovery pass without tearing
// down and recreating connections that are still valid (spec §4.1).
func (r *Registry) UpdateBegin(domain uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bound {
		if b.domain == domain {
			b.redundant = true
		}
	}
}

// UpdateEnd destroys every locator for domain still marked redundant.
func (r *Registry) UpdateEnd(domain uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, b := range r.bound {
		if b.domain == domain && b.redundant {
			delete(r.bound, key)
		}
	}
}

// Send dispatches msgs to dest. It inspects dest's security protocol and
// kind: secure locators go to the DTLS or TLS vtable, TCP-kind locators
// to the TCP vtable, everything else to UDP (spec §4.1). When a
// forwarder hook is installed, Send defers to it instead so that the
// forwarder can expand dest into its actual outbound destination set.
func (r *Registry) Send(id uint32, dest locator.Locator, msgs []*wire.Message) error {
	r.mu.RLock()
	forward := r.forwardFn
	r.mu.RUnlock()
	if forward != nil {
		return forward(id, locator.List{dest}, msgs)
	}
	return r.sendDirect(id, dest, msgs)
}

// SendList dispatches msgs to every locator in dest, used by the
// forwarder's own relay path (which calls the registry's low-level send,
// bypassing Send's forwarder re-entry, to avoid recursing back into
// itself — spec §4.3.3).
func (r *Registry) SendList(id uint32, dest locator.List, msgs []*wire.Message) error {
	var firstErr error
	for _, d := range dest {
		if err := r.sendDirect(id, d, msgs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) sendDirect(id uint32, dest locator.Locator, msgs []*wire.Message) error {
	r.mu.RLock()
	vt, ok := r.vtables[slotOf(dest)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no vtable registered for kind %s", dest.Kind)
	}
	return vt.Send(id, dest, msgs)
}

// FreeMessages unrefs every message in msgs, releasing each one whose
// user-count reaches zero.
func FreeMessages(msgs []*wire.Message) {
	for _, m := range msgs {
		m.Unref()
	}
}

// CopyMessages returns independent Message structs for each entry in
// msgs: each clone gets its own one-reference userCount and submessage
// list (payload bytes remain shared via DataBuffer refcounts), so a
// caller that mutates one copy — rewriting a header field in place, say
// — cannot corrupt any other live reference to the original. This is
// spec §4.1's copy_messages, distinct from RefMessages/ref_messages,
// which hands out additional references to the same shared Message.
func CopyMessages(msgs []*wire.Message) []*wire.Message {
	out := make([]*wire.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// RefMessages allocates one wire.Ref (RMREF) per message in msgs, each
// sharing the underlying message rather than copying it.
func RefMessages(msgs []*wire.Message) []*wire.Ref {
	out := make([]*wire.Ref, len(msgs))
	for i, m := range msgs {
		out[i] = wire.NewRef(m)
	}
	return out
}

// UnrefMessages releases every wire.Ref in refs.
func UnrefMessages(refs []*wire.Ref) {
	for _, r := range refs {
		r.Release()
	}
}
