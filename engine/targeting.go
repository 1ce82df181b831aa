// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fleetforge/fleet-engine/storage/fleet"
	"github.com/fleetforge/fleet-engine/version"
)

// boardPlatforms maps a device-reported board type to the firmware platform
// identifier used by the catalog. The table is closed: an unmapped board
// type fails closed with a log line and no targeting.
var boardPlatforms = map[string]string{
	"esp32":    "esp32",
	"esp32-s2": "esp32s2",
	"esp32-s3": "esp32s3",
	"esp32-c3": "esp32c3",
	"esp8266":  "esp8266",
	"pico-w":   "rp2040",
}

// versionAvailable is the outbound notification telling a device a
// different firmware version is targeted for it.
type versionAvailable struct {
	SessionID   string `json:"session_id"`
	Version     string `json:"version"`
	DownloadURL string `json:"download_url,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Pinned      bool   `json:"pinned"`
	Sender      string `json:"sender"`
}

// evaluateTarget decides, on each heartbeat, whether the device should be
// offered a different firmware version. The outbound message goes to the
// environment extracted from the inbound topic that triggered this
// evaluation, never the engine's own configured scope - relaying across
// environments is forbidden everywhere else, and this keeps the reply on
// the same side of the fence as the request.
func (e *Engine) evaluateTarget(log *slog.Logger, env Environment, d *fleet.Device) {
	platform, ok := boardPlatforms[d.BoardType]
	if !ok {
		log.Warn("no platform mapping for board type, skipping targeting", "board", d.BoardType)
		return
	}

	pinned := d.PinnedVersion != ""
	var (
		target *versionTarget
		err    error
	)
	if pinned {
		target, err = e.specificTarget(d.Product, platform, d.PinnedVersion)
		if err != nil {
			log.Error("failed to look up pinned version", "error", err)
			return
		}
		if target == nil {
			// Fall back to latest, but keep serving: a stale pin must
			// never strand a device without updates.
			log.Warn("pinned version not in catalog, falling back to latest",
				"pinned", d.PinnedVersion, "platform", platform)
			if target, err = e.latestTarget(d.Product, platform); err != nil {
				log.Error("failed to look up target version", "error", err)
				return
			}
		}
	} else {
		if target, err = e.latestTarget(d.Product, platform); err != nil {
			log.Error("failed to look up target version", "error", err)
			return
		}
	}
	if target == nil {
		return
	}
	if version.NormalizedEqual(d.FirmwareVersion, target.Version) {
		return
	}

	// The pinned flag reports that a pin is configured, not that the
	// pinned version was what actually got targeted. Dependent clients
	// account for this; do not change it without coordinating with them.
	notice := versionAvailable{
		SessionID:   uuid.NewString(),
		Version:     target.Version,
		DownloadURL: target.DownloadURL,
		Checksum:    target.Checksum,
		Pinned:      pinned,
		Sender:      e.commands.SenderID(),
	}
	data, err := json.Marshal(notice)
	if err != nil {
		log.Error("unexpected error marshalling version notice", "error", err)
		return
	}
	topic := e.topics.VersionResponse(env, d.DeviceID)
	if err = e.commands.publisher.Publish(topic, 1, data); err != nil {
		log.Error("failed to publish version notice", "topic", topic, "error", err)
		return
	}
	log.Info("published version notice", "current", d.FirmwareVersion,
		"target", target.Version, "session", notice.SessionID, "pinned", pinned)
}

type versionTarget struct {
	Version     string
	DownloadURL string
	Checksum    string
}

func (e *Engine) latestTarget(product, platform string) (*versionTarget, error) {
	info, err := e.catalog.Target(product, platform)
	if err != nil || info == nil {
		return nil, err
	}
	return &versionTarget{Version: info.Version, DownloadURL: info.DownloadURL, Checksum: info.Checksum}, nil
}

func (e *Engine) specificTarget(product, platform, ver string) (*versionTarget, error) {
	info, err := e.catalog.Specific(product, platform, ver)
	if err != nil || info == nil {
		return nil, err
	}
	return &versionTarget{Version: info.Version, DownloadURL: info.DownloadURL, Checksum: info.Checksum}, nil
}
