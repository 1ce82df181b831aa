// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

// SessionStatus is the lifecycle state of an OTA update session.
// Started and Downloading are in-flight; Success and Failed are terminal.
type SessionStatus string

const (
	SessionStarted     SessionStatus = "started"
	SessionDownloading SessionStatus = "downloading"
	SessionSuccess     SessionStatus = "success"
	SessionFailed      SessionStatus = "failed"
)

// InFlight reports whether a session can still transition.
func (s SessionStatus) InFlight() bool {
	return s == SessionStarted || s == SessionDownloading
}

type UpdateType string

const (
	UpdateTypeNetwork     UpdateType = "network_update"
	UpdateTypeDirectFlash UpdateType = "direct_flash"
)

// DeviceStatus is derived, never stored: offline when the last heartbeat is
// older than 15 minutes, degraded on a pattern of missed checkins, else online.
type DeviceStatus string

const (
	DeviceOnline   DeviceStatus = "online"
	DeviceDegraded DeviceStatus = "degraded"
	DeviceOffline  DeviceStatus = "offline"
)
