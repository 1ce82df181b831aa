// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleet-engine/server"
	"github.com/fleetforge/fleet-engine/storage/ota"
)

type SessionListOpts = ota.ListOpts

// @Summary List OTA sessions, most recent first
// @Param _ query SessionListOpts false "Filtering options"
// @Produce json
// @Success 200 {array} ota.Session
// @Router  /sessions [get]
func (h *handlers) sessionList(c echo.Context) error {
	var opts SessionListOpts
	if err := c.Bind(&opts); err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to parse list options")
	}

	sessions, err := h.engine.Sessions().List(opts)
	if err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Unexpected error listing sessions")
	}
	return c.JSON(http.StatusOK, sessions)
}

// @Summary Get an OTA session by its id
// @Produce json
// @Success 200 ota.Session
// @Router  /sessions/:id [get]
func (h *handlers) sessionGet(c echo.Context) error {
	session, err := h.engine.Sessions().Get(c.Param("id"))
	if err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to lookup session")
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}
	return c.JSON(http.StatusOK, session)
}
