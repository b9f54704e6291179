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

package transport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenSharedSharesOneSocket(t *testing.T) {
	ctx := context.Background()
	var cfg net.ListenConfig

	ln1, err := ListenShared(ctx, "tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	defer ln1.Close()

	addr := ln1.Addr().String()
	ln2, err := ListenShared(ctx, "tcp", addr, cfg)
	require.NoError(t, err)
	defer ln2.Close()

	refs, exists := listenerPool.References("tcp|" + addr)
	require.True(t, exists)
	require.Equal(t, 2, refs)
}

func TestListenSharedCloseDetachesOneReference(t *testing.T) {
	ctx := context.Background()
	var cfg net.ListenConfig

	ln1, err := ListenShared(ctx, "tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	addr := ln1.Addr().String()

	ln2, err := ListenShared(ctx, "tcp", addr, cfg)
	require.NoError(t, err)

	require.NoError(t, ln1.Close())
	_, exists := listenerPool.References("tcp|" + addr)
	require.True(t, exists)

	require.NoError(t, ln2.Close())
	_, exists = listenerPool.References("tcp|" + addr)
	require.False(t, exists)
}
