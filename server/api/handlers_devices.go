// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleet-engine/engine"
	"github.com/fleetforge/fleet-engine/server"
	"github.com/fleetforge/fleet-engine/storage/fleet"
	"github.com/fleetforge/fleet-engine/version"
)

// DeviceView is the registry row plus the liveness status derived from the
// recent heartbeat pattern at request time.
type DeviceView struct {
	fleet.Device
	Status fleet.DeviceStatus `json:"status"`
}

type deviceListOpts struct {
	Limit  int `query:"limit"`
	Offset int `query:"offset"`
}

// @Summary List active devices, most recently seen first
// @Param _ query deviceListOpts false "Pagination options"
// @Produce json
// @Success 200 {array} DeviceView
// @Router  /devices [get]
func (h *handlers) deviceList(c echo.Context) error {
	opts := deviceListOpts{Limit: 1000, Offset: 0}
	if err := c.Bind(&opts); err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to parse list options")
	}

	devices, err := h.engine.Fleet().DeviceList(opts.Limit, opts.Offset)
	if err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Unexpected error listing devices")
	}

	now := time.Now()
	views := make([]DeviceView, 0, len(devices))
	for i := range devices {
		status, err := h.engine.DeviceStatus(&devices[i], now)
		if err != nil {
			return server.EchoError(c, err, http.StatusInternalServerError, "Unexpected error deriving device status")
		}
		views = append(views, DeviceView{Device: devices[i], Status: status})
	}

	// TODO handle pagination in response
	return c.JSON(http.StatusOK, views)
}

// @Summary Get a device by its id
// @Produce json
// @Success 200 DeviceView
// @Router  /devices/:id [get]
func (h *handlers) deviceGet(c echo.Context) error {
	device, err := h.lookupDevice(c)
	if device == nil {
		return err
	}

	status, err := h.engine.DeviceStatus(device, time.Now())
	if err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Unexpected error deriving device status")
	}
	return c.JSON(http.StatusOK, DeviceView{Device: *device, Status: status})
}

// @Summary Set the display name of a device
// @Accept  json
// @Router  /devices/:id/name [put]
func (h *handlers) deviceRename(c echo.Context) error {
	device, err := h.lookupDevice(c)
	if device == nil {
		return err
	}

	var body struct {
		Name string `json:"name"`
	}
	if err = c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to parse request body")
	}
	if err = h.engine.Fleet().Rename(device.DeviceID, body.Name); err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to rename device")
	}
	h.auditAction(c, "rename", "device", device.DeviceID, "name", body.Name)
	return c.NoContent(http.StatusOK)
}

// @Summary Pin a device to a firmware version; an empty version clears the pin
// @Accept  json
// @Router  /devices/:id/pin [put]
func (h *handlers) devicePin(c echo.Context) error {
	device, err := h.lookupDevice(c)
	if device == nil {
		return err
	}

	var body struct {
		Version string `json:"version"`
	}
	if err = c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to parse request body")
	}
	// The pinned version need not be published yet, but it must parse.
	if body.Version != "" {
		if _, err = version.Ordinal(body.Version); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if err = h.engine.Fleet().Pin(device.DeviceID, body.Version); err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to pin device")
	}
	h.auditAction(c, "pin", "device", device.DeviceID, "version", body.Version)
	return c.NoContent(http.StatusOK)
}

// @Summary Soft-delete a device; any later message from it restores the row
// @Router  /devices/:id [delete]
func (h *handlers) deviceDelete(c echo.Context) error {
	device, err := h.lookupDevice(c)
	if device == nil {
		return err
	}

	if err = h.engine.Fleet().SoftDelete(device.DeviceID, time.Now()); err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to delete device")
	}
	h.auditAction(c, "delete", "device", device.DeviceID)
	return c.NoContent(http.StatusOK)
}

// @Summary Restore a soft-deleted device
// @Router  /devices/:id/restore [put]
func (h *handlers) deviceRestore(c echo.Context) error {
	device, err := h.lookupDevice(c)
	if device == nil {
		return err
	}

	if err = h.engine.Fleet().Restore(device.DeviceID); err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to restore device")
	}
	h.auditAction(c, "restore", "device", device.DeviceID)
	return c.NoContent(http.StatusOK)
}

// @Summary Publish a command to a device
// @Accept  json
// @Router  /devices/:id/commands [post]
func (h *handlers) deviceCommand(c echo.Context) error {
	device, err := h.lookupDevice(c)
	if device == nil {
		return err
	}

	var body struct {
		Command string         `json:"command"`
		Env     string         `json:"env"`
		Args    map[string]any `json:"args"`
	}
	if err = c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to parse request body")
	}
	if body.Command == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Command is required")
	}
	// Devices advertise their command set on registration; an empty set
	// means the device predates the info message and anything goes.
	if len(device.SupportedCommands) > 0 && !slices.Contains(device.SupportedCommands, body.Command) {
		return echo.NewHTTPError(http.StatusBadRequest, "Command not supported by device")
	}
	env, err := h.parseEnv(body.Env)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err = h.engine.Commands().PublishCommand(device.DeviceID, body.Command, env, body.Args); err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to publish command")
	}
	h.auditAction(c, "command", "device", device.DeviceID, "command", body.Command)
	return c.NoContent(http.StatusAccepted)
}

// @Summary Push configuration values to a device
// @Accept  json
// @Router  /devices/:id/config [put]
func (h *handlers) deviceConfig(c echo.Context) error {
	device, err := h.lookupDevice(c)
	if device == nil {
		return err
	}

	var body struct {
		Env    string         `json:"env"`
		Config map[string]any `json:"config"`
	}
	if err = c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to parse request body")
	}
	if len(body.Config) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Config values are required")
	}
	env, err := h.parseEnv(body.Env)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err = h.engine.Commands().PublishConfig(device.DeviceID, env, body.Config); err != nil {
		return server.EchoError(c, err, http.StatusInternalServerError, "Failed to publish config")
	}
	h.auditAction(c, "config", "device", device.DeviceID)
	return c.NoContent(http.StatusAccepted)
}

// lookupDevice resolves the :id path param. A nil device means the request
// was already answered with the returned error.
func (h *handlers) lookupDevice(c echo.Context) (*fleet.Device, error) {
	device, err := h.engine.Fleet().DeviceGet(c.Param("id"))
	if err != nil {
		return nil, server.EchoError(c, err, http.StatusInternalServerError, "Failed to lookup device")
	}
	if device == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Not found")
	}
	return device, nil
}

func (h *handlers) parseEnv(s string) (engine.Environment, error) {
	if s == "" {
		// Empty falls through to the dispatcher's configured scope
		return "", nil
	}
	return engine.ParseEnvironment(s)
}
