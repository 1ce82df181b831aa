// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleet-engine/catalog"
	"github.com/fleetforge/fleet-engine/engine"
	"github.com/fleetforge/fleet-engine/storage"
)

type handlers struct {
	engine  *engine.Engine
	catalog *catalog.FsCatalog
	audit   storage.AuditLogsFsHandle
}

func RegisterHandlers(e *echo.Echo, eng *engine.Engine, cat *catalog.FsCatalog, fs *storage.FsHandle) {
	h := handlers{engine: eng, catalog: cat, audit: fs.Audit}

	e.GET("/devices", h.deviceList)
	e.GET("/devices/:id", h.deviceGet)
	e.PUT("/devices/:id/name", h.deviceRename)
	e.PUT("/devices/:id/pin", h.devicePin)
	e.DELETE("/devices/:id", h.deviceDelete)
	e.PUT("/devices/:id/restore", h.deviceRestore)
	e.POST("/devices/:id/commands", h.deviceCommand)
	e.PUT("/devices/:id/config", h.deviceConfig)

	e.GET("/sessions", h.sessionList)
	e.GET("/sessions/:id", h.sessionGet)

	e.GET("/catalog/:product/:platform", h.catalogVersions)
	e.GET("/catalog/:product/:platform/latest", h.catalogLatest)
	e.GET("/catalog/:product/:platform/:version", h.catalogGet)
	e.POST("/catalog/:product/:platform", h.catalogPublish)
}

// auditAction journals who did what. The journal is advisory: a failed
// append is logged and never fails the request that triggered it.
func (h *handlers) auditAction(c echo.Context, action string, args ...any) {
	actor := c.Request().Header.Get("X-Actor")
	if actor == "" {
		actor = "operator"
	}
	event := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), action)
	for i := 0; i+1 < len(args); i += 2 {
		event += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	if err := h.audit.AppendEvent(actor, event); err != nil {
		CtxGetLog(c.Request().Context()).Error("failed to append audit event", "action", action, "error", err)
	}
}
