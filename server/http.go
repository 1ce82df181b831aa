// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/random"

	"github.com/fleetforge/fleet-engine/context"
)

type Server struct {
	context context.Context
	name    string
	echo    *echo.Echo
	server  *http.Server
}

func NewServer(ctx context.Context, echo *echo.Echo, name string, port uint16) Server {
	log := context.CtxGetLog(ctx).With("server", name)
	ctx = context.CtxWithLog(ctx, log)
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		BaseContext: func(net.Listener) context.Context { return ctx },
		ConnContext: adjustConnContext,
	}
	return Server{context: ctx, name: name, echo: echo, server: srv}
}

func (s Server) Start(quit chan error) {
	log := context.CtxGetLog(s.context)
	go func() {
		if err := s.echo.StartServer(s.server); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
			quit <- fmt.Errorf("failed to start server %s: %w", s.name, err)
		}
	}()
	go func() {
		// Echo locks a mutex immediately at the Start call, and releases after port binding is done.
		// GetAddress will be locked for that duration; but we need to give it a tiny favor to start.
		time.Sleep(time.Millisecond * 2)
		if addr := s.GetAddress(); addr != "" {
			log.Info("server started", "addr", addr)
		}
	}()
}

func (s Server) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(s.context, timeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		log := context.CtxGetLog(s.context)
		log.Error("error stopping server", "error", err)
	}
}

func (s Server) GetAddress() (ret string) {
	// ListenerAddr waits for the server to start before returning
	if addr := s.echo.ListenerAddr(); addr != nil {
		// Addr can be nil when server fails to start
		ret = addr.String()
	}
	return
}

func adjustConnContext(ctx context.Context, conn net.Conn) context.Context {
	cid := random.String(10) // No need for uuid, save some space
	log := context.CtxGetLog(ctx).With("conn_id", cid)
	return context.CtxWithLog(ctx, log)
}
