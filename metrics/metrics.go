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

// Package metrics exposes the counters named in spec §7 ("global
// forwarder counters") and §9 ("per-connection counters") as Prometheus
// collectors, grounded on the teacher's metrics.go
// (promauto.NewCounterVec under an rtpscore namespace) and wired to
// forward.Forwarder.Stats/ftentry and tcpfsm/dtlsfsm's connection
// counters rather than redeclaring the counting logic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rtpscore"

// Forwarder holds the global forwarder counters of spec §7: "rx, data
// UC/MC, no-peer, no-endpoint, add-fwd-dest, fwded, local, no-dest,
// direct-loops, indirect-loops, sent, not-sent, requested, handle-sent,
// forwarder-nomem". NoMem has no Go analogue (see forward.Stats.NoMem)
// and is deliberately not exposed as a counter here since it can never
// move.
type Forwarder struct {
	Rx             prometheus.Counter
	DataUnicast    prometheus.Counter
	DataMulticast  prometheus.Counter
	NoPeer         prometheus.Counter
	NoEndpoint     prometheus.Counter
	AddFwdDest     prometheus.Counter
	DirectLoops    prometheus.Counter
	IndirectLoops  prometheus.Counter
	LocalDelivered prometheus.Counter
	Relayed        prometheus.Counter
	NoDest         prometheus.Counter
	Sent           prometheus.Counter
	NotSent        prometheus.Counter
	Requested      prometheus.Counter
	HandleSent     prometheus.Counter
	InfoReplies    prometheus.Counter

	last Snapshot
}

// NewForwarder registers and returns the forwarder counter set. reg may
// be nil, in which case the counters are created but registered with no
// registry (promauto.With(nil) skips registration).
func NewForwarder(reg prometheus.Registerer) *Forwarder {
	factory := promauto.With(reg)
	const sub = "forwarder"
	return &Forwarder{
		Rx: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "rx_total",
			Help: "Messages received by the forwarder.",
		}),
		DataUnicast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "data_unicast_total",
			Help: "DATA/DATA_FRAG submessages addressed to a specific reader.",
		}),
		DataMulticast: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "data_multicast_total",
			Help: "DATA/DATA_FRAG submessages addressed to the unknown (multicast) reader.",
		}),
		NoPeer: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "no_peer_total",
			Help: "Messages whose source participant is not yet known.",
		}),
		NoEndpoint: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "no_endpoint_total",
			Help: "Messages whose owning endpoint could not be found on a known source participant.",
		}),
		AddFwdDest: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "add_fwd_dest_total",
			Help: "Destinations added by endpoint-match or builtin-bitmask broadcast.",
		}),
		DirectLoops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "direct_loops_total",
			Help: "Messages dropped because they looped directly back to their source.",
		}),
		IndirectLoops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "indirect_loops_total",
			Help: "Messages dropped because their InfoSource chain looped back to this node.",
		}),
		LocalDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "local_delivered_total",
			Help: "Messages delivered to a locally-reachable participant.",
		}),
		Relayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "relayed_total",
			Help: "Messages relayed to one or more remote destinations.",
		}),
		NoDest: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "no_dest_total",
			Help: "Received messages that were not locally delivered.",
		}),
		Sent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "sent_total",
			Help: "Outbound send requests that found at least one destination.",
		}),
		NotSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "not_sent_total",
			Help: "Outbound send requests that found no destination.",
		}),
		Requested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "requested_total",
			Help: "Outbound send requests handed to the forwarder.",
		}),
		HandleSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "handle_sent_total",
			Help: "Outbound sends that bypassed parsing via an explicit locator handle.",
		}),
		InfoReplies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: "info_replies_total",
			Help: "InfoReply submessages learned from received messages.",
		}),
	}
}

// Observe adds the delta between snap and the previously observed
// snapshot to the registered counters. snap is expected to be a
// monotonically increasing cumulative total, matching forward.Stats's
// own counters — callers typically poll forward.Forwarder.Stats() on an
// interval and pass the result straight through via a Snapshot literal.
func (f *Forwarder) Observe(snap Snapshot) {
	addCounter(f.Rx, snap.Rx-f.last.Rx)
	addCounter(f.DataUnicast, snap.DataUnicast-f.last.DataUnicast)
	addCounter(f.DataMulticast, snap.DataMulticast-f.last.DataMulticast)
	addCounter(f.NoPeer, snap.NoPeer-f.last.NoPeer)
	addCounter(f.NoEndpoint, snap.NoEndpoint-f.last.NoEndpoint)
	addCounter(f.AddFwdDest, snap.AddFwdDest-f.last.AddFwdDest)
	addCounter(f.DirectLoops, snap.DirectLoops-f.last.DirectLoops)
	addCounter(f.IndirectLoops, snap.IndirectLoops-f.last.IndirectLoops)
	addCounter(f.LocalDelivered, snap.LocalDelivered-f.last.LocalDelivered)
	addCounter(f.Relayed, snap.Relayed-f.last.Relayed)
	addCounter(f.NoDest, snap.NoDest-f.last.NoDest)
	addCounter(f.Sent, snap.Sent-f.last.Sent)
	addCounter(f.NotSent, snap.NotSent-f.last.NotSent)
	addCounter(f.Requested, snap.Requested-f.last.Requested)
	addCounter(f.HandleSent, snap.HandleSent-f.last.HandleSent)
	addCounter(f.InfoReplies, snap.InfoReplies-f.last.InfoReplies)
	f.last = snap
}

// Snapshot mirrors forward.Stats's exported counter fields (minus NoMem,
// which never moves in this port). It is declared here (rather than
// imported) so this package has no compile-time dependency on forward;
// callers convert with a one-line struct literal at the call site.
type Snapshot struct {
	Rx             uint64
	DataUnicast    uint64
	DataMulticast  uint64
	NoPeer         uint64
	NoEndpoint     uint64
	AddFwdDest     uint64
	DirectLoops    uint64
	IndirectLoops  uint64
	LocalDelivered uint64
	Relayed        uint64
	NoDest         uint64
	Sent           uint64
	NotSent        uint64
	Requested      uint64
	HandleSent     uint64
	InfoReplies    uint64
}

func addCounter(c prometheus.Counter, total uint64) {
	c.Add(float64(total))
}
