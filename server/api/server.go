// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package api is the REST surface for operator tooling and the management
// frontend. Authentication and session handling happen in a separate
// gateway upstream; every request that reaches this server is trusted and
// attributed via the X-Actor header.
package api

import (
	"github.com/fleetforge/fleet-engine/catalog"
	"github.com/fleetforge/fleet-engine/engine"
	"github.com/fleetforge/fleet-engine/server"
	"github.com/fleetforge/fleet-engine/storage"
)

const serverName = "rest-api"

func NewServer(ctx Context, eng *engine.Engine, cat *catalog.FsCatalog, fs *storage.FsHandle, port uint16) server.Server {
	e := server.NewEchoServer()
	srv := server.NewServer(ctx, e, serverName, port)
	RegisterHandlers(e, eng, cat, fs)
	return srv
}
