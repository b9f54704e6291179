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

package pool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockDestructor struct {
	value     string
	destroyed int32
	err       error
}

func (m *mockDestructor) Destruct() error {
	atomic.StoreInt32(&m.destroyed, 1)
	return m.err
}

func (m *mockDestructor) isDestroyed() bool {
	return atomic.LoadInt32(&m.destroyed) == 1
}

func TestPool_LoadOrNew_Basic(t *testing.T) {
	p := New()

	val, loaded, err := p.LoadOrNew("key", func() (Destructor, error) {
		return &mockDestructor{value: "v1"}, nil
	})
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, "v1", val.(*mockDestructor).value)

	val2, loaded2, err := p.LoadOrNew("key", func() (Destructor, error) {
		t.Fatal("constructor should not run for an existing key")
		return nil, nil
	})
	require.NoError(t, err)
	require.True(t, loaded2)
	require.Same(t, val, val2)

	refs, exists := p.References("key")
	require.True(t, exists)
	require.Equal(t, 2, refs)
}

func TestPool_LoadOrNew_ConstructorError(t *testing.T) {
	p := New()
	wantErr := errors.New("boom")

	val, loaded, err := p.LoadOrNew("key", func() (Destructor, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.False(t, loaded)
	require.Nil(t, val)

	_, exists := p.References("key")
	require.False(t, exists)
}

func TestPool_DeleteDestructsAtZero(t *testing.T) {
	p := New()
	m := &mockDestructor{value: "v1"}

	_, _ = p.LoadOrStore("key", m)
	_, _ = p.LoadOrStore("key", m) // 2 refs now

	deleted, err := p.Delete("key")
	require.NoError(t, err)
	require.False(t, deleted)
	require.False(t, m.isDestroyed())

	deleted, err = p.Delete("key")
	require.NoError(t, err)
	require.True(t, deleted)
	require.True(t, m.isDestroyed())

	_, exists := p.References("key")
	require.False(t, exists)
}

func TestPool_DeleteUnknownKey(t *testing.T) {
	p := New()
	deleted, err := p.Delete("missing")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestPool_Range(t *testing.T) {
	p := New()
	_, _, _ = p.LoadOrNew("a", func() (Destructor, error) { return &mockDestructor{value: "a"}, nil })
	_, _, _ = p.LoadOrNew("b", func() (Destructor, error) { return &mockDestructor{value: "b"}, nil })

	seen := map[any]bool{}
	p.Range(func(key any, value Destructor, refs int) bool {
		seen[key] = true
		return true
	})
	require.Len(t, seen, 2)
	require.Equal(t, 2, p.Len())
}
