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

package rtpscore

import (
	"context"

	"go.uber.org/zap"
)

// Context defines the lifetime of one running Core. It embeds
// context.Context so callers can pass it anywhere a plain context is
// expected, and adds the cleanup-on-cancel bookkeeping the teacher's own
// Context provides (context.go) — trimmed to just that lifecycle
// concern, since this process has no JSON module-loading layer for a
// Context to mediate (that machinery belongs to the DCPS/HTTP config
// surface spec.md places out of scope).
type Context struct {
	context.Context

	log          *zap.Logger
	cleanupFuncs []func()
}

// NewContext derives a Context from parent, returning it along with a
// CancelFunc that runs every registered cleanup function before
// cancelling the underlying context.
func NewContext(parent context.Context, log *zap.Logger) (Context, context.CancelFunc) {
	if log == nil {
		log = Log()
	}
	c, cancel := context.WithCancel(parent)
	ctx := Context{Context: c, log: log}
	wrapped := func() {
		cancel()
		for _, f := range ctx.cleanupFuncs {
			f()
		}
	}
	return ctx, wrapped
}

// OnCancel registers f to run when this Context's CancelFunc is invoked.
// Cleanup funcs run in registration order, after the context is
// cancelled, matching the teacher's own ordering (context.go's OnCancel).
func (ctx *Context) OnCancel(f func()) {
	ctx.cleanupFuncs = append(ctx.cleanupFuncs, f)
}

// Logger returns the logger associated with this Context.
func (ctx Context) Logger() *zap.Logger {
	if ctx.log == nil {
		return Log()
	}
	return ctx.log
}
