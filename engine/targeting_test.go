// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetforge/fleet-engine/catalog"
)

func (te *testEngine) lastNotice() (string, versionAvailable) {
	msgs := te.pub.all()
	require.NotEmpty(te.t, msgs)
	last := msgs[len(msgs)-1]
	var notice versionAvailable
	require.Nil(te.t, json.Unmarshal(last.Payload, &notice))
	require.Equal(te.t, byte(1), last.Qos)
	return last.Topic, notice
}

func TestTargetingOffersLatest(t *testing.T) {
	te := newTestEngine(t)
	te.cat.set("clock", "esp32", "latest", &catalog.VersionInfo{
		Version: "v1.2.0", DownloadURL: "https://fw.example.com/clock-1.2.0.bin", Checksum: "abc",
	})

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())

	topic, notice := te.lastNotice()
	assert.Equal(t, "fleet/dev/version/response/dev-1", topic)
	assert.Equal(t, "v1.2.0", notice.Version)
	assert.Equal(t, "https://fw.example.com/clock-1.2.0.bin", notice.DownloadURL)
	assert.Equal(t, "abc", notice.Checksum)
	assert.False(t, notice.Pinned)
	assert.NotEmpty(t, notice.SessionID)
	assert.Equal(t, te.e.Commands().SenderID(), notice.Sender)
}

func TestTargetingSkipsCurrentVersion(t *testing.T) {
	te := newTestEngine(t)
	// Same version modulo the leading v: no offer
	te.cat.set("clock", "esp32", "latest", &catalog.VersionInfo{Version: "1.0.0"})

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())
	assert.Empty(t, te.pub.all())
}

func TestTargetingHonorsPin(t *testing.T) {
	te := newTestEngine(t)
	te.cat.set("clock", "esp32", "latest", &catalog.VersionInfo{Version: "v2.0.0"})
	te.cat.set("clock", "esp32", "v1.5.0", &catalog.VersionInfo{Version: "v1.5.0"})

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())
	require.Nil(t, te.e.Fleet().Pin("dev-1", "v1.5.0"))

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())
	_, notice := te.lastNotice()
	assert.Equal(t, "v1.5.0", notice.Version)
	assert.True(t, notice.Pinned)
}

func TestTargetingPinFallsBackToLatest(t *testing.T) {
	te := newTestEngine(t)
	te.cat.set("clock", "esp32", "latest", &catalog.VersionInfo{Version: "v2.0.0"})

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())
	require.Nil(t, te.e.Fleet().Pin("dev-1", "v9.9.9"))

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())
	_, notice := te.lastNotice()
	assert.Equal(t, "v2.0.0", notice.Version)
	// The flag reports the pin configuration, not what was targeted
	assert.True(t, notice.Pinned)
}

func TestTargetingUnknownBoard(t *testing.T) {
	te := newTestEngine(t)
	te.cat.set("clock", "esp32", "latest", &catalog.VersionInfo{Version: "v2.0.0"})

	hb := legacyHeartbeat()
	hb["board"] = "stm32"
	te.send("fleet/dev/heartbeat/dev-1", hb)
	assert.Empty(t, te.pub.all())
}

func TestTargetingRepliesOnInboundEnvironment(t *testing.T) {
	te := newTestEngine(t)
	te.cat.set("clock", "esp32", "latest", &catalog.VersionInfo{Version: "v2.0.0"})
	te.e.env = EnvProd

	te.send("fleet/prod/heartbeat/dev-1", legacyHeartbeat())
	topic, _ := te.lastNotice()
	assert.Equal(t, "fleet/prod/version/response/dev-1", topic)
}

func TestBoardPlatformTable(t *testing.T) {
	assert.Equal(t, "rp2040", boardPlatforms["pico-w"])
	assert.Equal(t, "esp32s3", boardPlatforms["esp32-s3"])
	_, ok := boardPlatforms["unknown-board"]
	assert.False(t, ok)
}
