// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package context re-exports the standard context package alongside the
// logger plumbing used across the engine: the broker event loop, the sweep
// daemon and every HTTP request carry their enriched logger on the context
// rather than through parameters.
package context

import (
	"context"
	"log/slog"
)

type (
	Context = context.Context
	ctxKey  int
)

var (
	Background  = context.Background
	WithTimeout = context.WithTimeout
	WithValue   = context.WithValue
)

const (
	ctxKeyLogger ctxKey = iota
)

// CtxGetLog returns the logger carried by the context. Every entry point
// (main, test setup, server middleware) installs one; a missing logger is a
// wiring bug and panics.
func CtxGetLog(ctx context.Context) *slog.Logger {
	return ctx.Value(ctxKeyLogger).(*slog.Logger)
}

func CtxWithLog(ctx Context, log *slog.Logger) Context {
	return WithValue(ctx, ctxKeyLogger, log)
}
