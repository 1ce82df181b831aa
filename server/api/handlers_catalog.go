// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleet-engine/catalog"
	"github.com/fleetforge/fleet-engine/server"
	"github.com/fleetforge/fleet-engine/version"
)

// @Summary List published versions for a product/platform
// @Produce json
// @Success 200 {array} string
// @Router  /catalog/:product/:platform [get]
func (h *handlers) catalogVersions(c echo.Context) error {
	versions, err := h.catalog.List(c.Param("product"), c.Param("platform"))
	if err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to list catalog versions")
	}
	return c.JSON(http.StatusOK, versions)
}

// @Summary Get the latest published version for a product/platform
// @Produce json
// @Success 200 catalog.VersionInfo
// @Router  /catalog/:product/:platform/latest [get]
func (h *handlers) catalogLatest(c echo.Context) error {
	info, err := h.catalog.Target(c.Param("product"), c.Param("platform"))
	if err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to lookup latest version")
	}
	if info == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}
	return c.JSON(http.StatusOK, info)
}

// @Summary Get one published version manifest
// @Produce json
// @Success 200 catalog.VersionInfo
// @Router  /catalog/:product/:platform/:version [get]
func (h *handlers) catalogGet(c echo.Context) error {
	info, err := h.catalog.Specific(c.Param("product"), c.Param("platform"), c.Param("version"))
	if err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to lookup version")
	}
	if info == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}
	return c.JSON(http.StatusOK, info)
}

// @Summary Publish a firmware version and move the latest pointer to it
// @Accept  json
// @Router  /catalog/:product/:platform [post]
func (h *handlers) catalogPublish(c echo.Context) error {
	var info catalog.VersionInfo
	if err := c.Bind(&info); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to parse request body")
	}
	// Path params are authoritative over whatever the body claims
	info.Product = c.Param("product")
	info.Platform = c.Param("platform")
	if info.Version == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Version is required")
	}

	if err := h.catalog.Publish(info); err != nil {
		if errors.Is(err, version.ErrMalformed) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		} else if errors.Is(err, version.ErrRejected) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to publish version")
	}
	h.auditAction(c, "publish", "product", info.Product, "platform", info.Platform, "version", info.Version)
	return c.NoContent(http.StatusCreated)
}
