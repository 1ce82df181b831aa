// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"time"

	"github.com/fleetforge/fleet-engine/context"
)

type daemonFunc func(stop chan bool)

type Option func(*daemons)

// WithSweepInterval sets the timeout sweep interval
func WithSweepInterval(interval time.Duration) Option {
	return func(d *daemons) {
		d.sweepInterval = interval
	}
}

type daemons struct {
	context context.Context
	engine  *Engine
	daemons []daemonFunc
	stops   []chan bool

	sweepInterval time.Duration
}

func NewDaemons(ctx context.Context, engine *Engine, opts ...Option) *daemons {
	d := &daemons{
		context:       ctx,
		engine:        engine,
		sweepInterval: time.Minute,
	}
	d.daemons = []daemonFunc{d.timeoutSweep()}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// timeoutSweep runs independently of the broker event loop and shares only
// the durable store with it. No in-process locking: terminal transitions
// are idempotent no-ops and the store serializes conflicting writes.
func (d *daemons) timeoutSweep() daemonFunc {
	return func(stop chan bool) {
		log := context.CtxGetLog(d.context)
		for {
			if err := d.engine.SweepTimeouts(time.Now()); err != nil {
				// One failed scan never terminates the loop - log and
				// wait for the next interval.
				log.Error("ota timeout sweep failed", "error", err)
			}
			select {
			case <-stop:
				return
			case <-time.After(d.sweepInterval):
			}
		}
	}
}

func (d *daemons) Start() {
	for _, f := range d.daemons {
		stop := make(chan bool)
		d.stops = append(d.stops, stop)
		go f(stop)
	}
}

func (d *daemons) Shutdown() {
	for _, s := range d.stops {
		s <- true
	}
}
