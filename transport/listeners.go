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
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qeo-rtps/rtpscore/internal/pool"
)

// listenerPool lets multiple IP_CX-equivalent connections share the
// single socket bound for a given (network, address) pair, the same way
// the teacher's listen.go/listeners.go share an *fakeCloseListener* over
// one real *net.Listener*. This is the concrete mechanism behind spec
// §3's "Locators are reference-counted; multiple connections may share
// one."
var listenerPool = pool.New()

// ListenShared returns a *fakeCloseListener* for (network, address),
// binding a fresh socket the first time and handing out additional
// reference-counted wrappers on every subsequent call. Each returned
// listener's Close only detaches this reference; the underlying socket is
// closed when the last reference goes away.
func ListenShared(ctx context.Context, network, address string, config net.ListenConfig) (net.Listener, error) {
	key := network + "|" + address
	shared, _, err := listenerPool.LoadOrNew(key, func() (pool.Destructor, error) {
		ln, err := config.Listen(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return &sharedListener{Listener: ln, key: key}, nil
	})
	if err != nil {
		return nil, err
	}
	return &fakeCloseListener{sharedListener: shared.(*sharedListener)}, nil
}

// sharedListener wraps one real net.Listener. Its fields are genuinely
// shared state, synchronized, so it must always be used through a
// pointer.
type sharedListener struct {
	net.Listener
	key        string
	deadline   bool
	deadlineMu sync.Mutex
}

func (sl *sharedListener) Destruct() error {
	return sl.Listener.Close()
}

func (sl *sharedListener) setDeadline() {
	sl.deadlineMu.Lock()
	defer sl.deadlineMu.Unlock()
	if sl.deadline {
		return
	}
	if tl, ok := sl.Listener.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(-time.Minute))
	}
	sl.deadline = true
}

func (sl *sharedListener) clearDeadline() {
	sl.deadlineMu.Lock()
	defer sl.deadlineMu.Unlock()
	if !sl.deadline {
		return
	}
	if tl, ok := sl.Listener.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Time{})
	}
	sl.deadline = false
}

// fakeCloseListener lets one user of a shared socket "close" its own
// reference while the socket stays open for other users. Each Accept
// caller must wrap a fresh fakeCloseListener around the same
// sharedListener; values must not be copied.
type fakeCloseListener struct {
	closed int32
	*sharedListener
}

func (fcl *fakeCloseListener) Accept() (net.Conn, error) {
	if atomic.LoadInt32(&fcl.closed) == 1 {
		return nil, fakeClosedErr(fcl.key)
	}
	conn, err := fcl.sharedListener.Accept()
	if err == nil {
		return conn, nil
	}
	if atomic.LoadInt32(&fcl.closed) == 1 {
		fcl.sharedListener.clearDeadline()
		var netErr net.Error
		if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
			return nil, fakeClosedErr(fcl.key)
		}
	}
	return nil, err
}

func (fcl *fakeCloseListener) Close() error {
	if atomic.CompareAndSwapInt32(&fcl.closed, 0, 1) {
		fcl.sharedListener.setDeadline()
		_, _ = listenerPool.Delete(fcl.sharedListener.key)
	}
	return nil
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}

func fakeClosedErr(key string) error {
	return fmt.Errorf("listener %q: use of closed network connection (shared listener detached)", key)
}
