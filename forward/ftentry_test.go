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

package forward

import (
	"testing"

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/stretchr/testify/require"
)

func TestFTEntryTouchResetsAge(t *testing.T) {
	e := NewFTEntry(locator.GUIDPrefix{1})
	for i := 0; i < MaxForwardTTL-1; i++ {
		require.False(t, e.Age())
	}
	e.Touch()
	require.False(t, e.Age())
}

func TestFTEntryAgeExpires(t *testing.T) {
	e := NewFTEntry(locator.GUIDPrefix{1})
	var expired bool
	for i := 0; i < MaxForwardTTL; i++ {
		expired = e.Age()
	}
	require.True(t, expired)
}

func TestFTEntryDestinationsPrefersLearned(t *testing.T) {
	e := NewFTEntry(locator.GUIDPrefix{1})
	def := locator.List{{Kind: locator.KindUDPv4, Port: 1}}
	learned := locator.List{{Kind: locator.KindUDPv4, Port: 2}}
	e.SetLocators(ModeUserUnicast, def)
	require.Equal(t, def, e.Destinations(ModeUserUnicast))

	e.LearnLocators(ModeUserUnicast, learned)
	require.Equal(t, learned, e.Destinations(ModeUserUnicast))
}

func TestFTEntryDestinationsFallsBackToMulticast(t *testing.T) {
	e := NewFTEntry(locator.GUIDPrefix{1})
	mc := locator.List{{Kind: locator.KindUDPv4, Port: 7400, Flags: locator.FlagMulticast}}
	e.SetLocators(ModeUserMulticast, mc)
	require.Equal(t, mc, e.Destinations(ModeUserUnicast))
}

func TestFTEntryDestinationsWalksParentChain(t *testing.T) {
	table := NewTable()
	parent := table.GetOrCreate(locator.GUIDPrefix{1})
	parent.SetLocators(ModeUserUnicast, locator.List{{Kind: locator.KindTCPv4, Port: 9}})
	child := table.GetOrCreate(locator.GUIDPrefix{2})
	table.LinkChild(parent, child)

	require.Equal(t, parent.Destinations(ModeUserUnicast), child.Destinations(ModeUserUnicast))
	require.Equal(t, 1, parent.NChildren)
}

func TestTableRemoveCascadesToChildren(t *testing.T) {
	table := NewTable()
	parent := table.GetOrCreate(locator.GUIDPrefix{1})
	child := table.GetOrCreate(locator.GUIDPrefix{2})
	table.LinkChild(parent, child)

	table.Remove(locator.GUIDPrefix{1})
	require.Nil(t, table.Lookup(locator.GUIDPrefix{1}))
	require.Nil(t, table.Lookup(locator.GUIDPrefix{2}))
}

func TestTableSweepExpiresStaleEntries(t *testing.T) {
	table := NewTable()
	table.GetOrCreate(locator.GUIDPrefix{1})

	var expired []locator.GUIDPrefix
	for i := 0; i < MaxForwardTTL; i++ {
		expired = table.Sweep()
	}
	require.Len(t, expired, 1)
	require.Equal(t, 0, table.Len())
}

func TestTableRangeVisitsEveryEntry(t *testing.T) {
	table := NewTable()
	table.GetOrCreate(locator.GUIDPrefix{1})
	table.GetOrCreate(locator.GUIDPrefix{2})

	seen := make(map[locator.GUIDPrefix]bool)
	table.Range(func(prefix locator.GUIDPrefix, e *FTEntry) {
		seen[prefix] = true
	})
	require.Len(t, seen, 2)
	require.True(t, seen[locator.GUIDPrefix{1}])
	require.True(t, seen[locator.GUIDPrefix{2}])
}
