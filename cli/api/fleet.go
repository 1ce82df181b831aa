// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"net/url"

	"github.com/fleetforge/fleet-engine/catalog"
	serverapi "github.com/fleetforge/fleet-engine/server/api"
	"github.com/fleetforge/fleet-engine/storage/ota"
)

type (
	Device      = serverapi.DeviceView
	Session     = ota.Session
	VersionInfo = catalog.VersionInfo
)

func (a *Api) Devices() ([]Device, error) {
	var devices []Device
	return devices, a.Get("/devices", &devices)
}

func (a *Api) Device(id string) (Device, error) {
	var device Device
	return device, a.Get("/devices/"+url.PathEscape(id), &device)
}

func (a *Api) RenameDevice(id, name string) error {
	return a.Put("/devices/"+url.PathEscape(id)+"/name", map[string]string{"name": name})
}

func (a *Api) PinDevice(id, version string) error {
	return a.Put("/devices/"+url.PathEscape(id)+"/pin", map[string]string{"version": version})
}

func (a *Api) DeleteDevice(id string) error {
	return a.Delete("/devices/" + url.PathEscape(id))
}

func (a *Api) RestoreDevice(id string) error {
	return a.Put("/devices/"+url.PathEscape(id)+"/restore", nil)
}

func (a *Api) SendCommand(id, command, env string) error {
	body := map[string]string{"command": command}
	if env != "" {
		body["env"] = env
	}
	return a.Post("/devices/"+url.PathEscape(id)+"/commands", body)
}

// Sessions lists OTA sessions; deviceID and status are optional filters.
func (a *Api) Sessions(deviceID, status string) ([]Session, error) {
	query := url.Values{}
	if deviceID != "" {
		query.Set("device-id", deviceID)
	}
	if status != "" {
		query.Set("status", status)
	}
	resource := "/sessions"
	if len(query) > 0 {
		resource += "?" + query.Encode()
	}
	var sessions []Session
	return sessions, a.Get(resource, &sessions)
}

func (a *Api) Session(id string) (Session, error) {
	var session Session
	return session, a.Get("/sessions/"+url.PathEscape(id), &session)
}

func (a *Api) CatalogVersions(product, platform string) ([]string, error) {
	var versions []string
	return versions, a.Get("/catalog/"+url.PathEscape(product)+"/"+url.PathEscape(platform), &versions)
}

func (a *Api) CatalogLatest(product, platform string) (VersionInfo, error) {
	var info VersionInfo
	return info, a.Get("/catalog/"+url.PathEscape(product)+"/"+url.PathEscape(platform)+"/latest", &info)
}

func (a *Api) PublishVersion(info VersionInfo) error {
	return a.Post("/catalog/"+url.PathEscape(info.Product)+"/"+url.PathEscape(info.Platform), info)
}
