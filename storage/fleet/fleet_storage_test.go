// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fleet

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetforge/fleet-engine/storage"
)

func newTestStorage(t *testing.T) *Storage {
	db, err := storage.NewDb(filepath.Join(t.TempDir(), storage.DbFile))
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, db.Close())
	})
	s, err := NewStorage(db)
	require.Nil(t, err)
	return s
}

func TestUpsertFromHeartbeat(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	d, err := s.DeviceGet("does-not-exist")
	require.Nil(t, err)
	require.Nil(t, d)

	// A new-format heartbeat cannot register an unknown device
	d, created, err := s.UpsertFromHeartbeat("dev-1", now, Telemetry{Rssi: -50}, nil)
	require.Nil(t, err)
	require.False(t, created)
	require.Nil(t, d)

	// The legacy format carries identity and can
	static := &StaticInfo{Product: "clock", BoardType: "esp32", FirmwareVersion: "v1.0.0"}
	d, created, err = s.UpsertFromHeartbeat("dev-1", now, Telemetry{Rssi: -50, Uptime: 10, Ssid: "lab"}, static)
	require.Nil(t, err)
	require.True(t, created)
	require.Equal(t, "clock", d.Product)
	require.Equal(t, int64(-50), d.Rssi)
	require.Equal(t, now.Unix(), d.FirstSeen)
	require.Equal(t, now.Unix(), d.LastSeen)

	// Later heartbeats refresh telemetry and last seen
	later := now.Add(time.Minute)
	static.FirmwareVersion = "v1.1.0"
	d, created, err = s.UpsertFromHeartbeat("dev-1", later, Telemetry{Rssi: -60, Uptime: 70}, static)
	require.Nil(t, err)
	require.False(t, created)
	require.Equal(t, "v1.1.0", d.FirmwareVersion)
	require.Equal(t, int64(-60), d.Rssi)
	require.Equal(t, later.Unix(), d.LastSeen)

	stored, err := s.DeviceGet("dev-1")
	require.Nil(t, err)
	require.Equal(t, now.Unix(), stored.FirstSeen)
	require.Equal(t, later.Unix(), stored.LastSeen)
	require.Equal(t, "v1.1.0", stored.FirmwareVersion)
}

func TestUpsertFromInfo(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	static := StaticInfo{Product: "clock", BoardType: "esp32-s3", FirmwareVersion: "v1.0.0"}
	d, err := s.UpsertFromInfo("dev-1", now, static, `{"tz":"UTC"}`, []string{"reboot", "identify"})
	require.Nil(t, err)
	require.Equal(t, "esp32-s3", d.BoardType)
	require.Equal(t, []string{"reboot", "identify"}, d.SupportedCommands)
	require.Equal(t, `{"tz":"UTC"}`, d.LastConfig)
	require.Equal(t, now.Unix(), d.LastInfoAt)

	// Re-registration overwrites identity and command set
	static.FirmwareVersion = "v2.0.0"
	d, err = s.UpsertFromInfo("dev-1", now.Add(time.Hour), static, "{}", []string{"reboot"})
	require.Nil(t, err)
	require.Equal(t, "v2.0.0", d.FirmwareVersion)
	require.Equal(t, []string{"reboot"}, d.SupportedCommands)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	static := &StaticInfo{Product: "clock", BoardType: "esp32"}
	_, _, err := s.UpsertFromHeartbeat("dev-1", now, Telemetry{}, static)
	require.Nil(t, err)
	_, _, err = s.UpsertFromHeartbeat("dev-2", now.Add(time.Second), Telemetry{}, static)
	require.Nil(t, err)

	require.Nil(t, s.SoftDelete("dev-1", now))

	// Deleted devices drop out of listings but stay readable
	devices, err := s.DeviceList(0, 0)
	require.Nil(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "dev-2", devices[0].DeviceID)

	d, err := s.DeviceGet("dev-1")
	require.Nil(t, err)
	require.NotNil(t, d.DeletedAt)

	// Any telemetry from the device is an implicit restore
	d, _, err = s.UpsertFromHeartbeat("dev-1", now.Add(time.Minute), Telemetry{Rssi: -70}, nil)
	require.Nil(t, err)
	require.Nil(t, d.DeletedAt)

	devices, err = s.DeviceList(0, 0)
	require.Nil(t, err)
	require.Len(t, devices, 2)
	// Most recently seen first
	require.Equal(t, "dev-1", devices[0].DeviceID)

	require.Nil(t, s.SoftDelete("dev-2", now))
	require.Nil(t, s.Restore("dev-2"))
	d, err = s.DeviceGet("dev-2")
	require.Nil(t, err)
	require.Nil(t, d.DeletedAt)
}

func TestPinAndRename(t *testing.T) {
	s := newTestStorage(t)
	static := &StaticInfo{Product: "clock", BoardType: "esp32"}
	_, _, err := s.UpsertFromHeartbeat("dev-1", time.Now(), Telemetry{}, static)
	require.Nil(t, err)

	require.Nil(t, s.Pin("dev-1", "v1.5.0"))
	require.Nil(t, s.Rename("dev-1", "Kitchen clock"))

	d, err := s.DeviceGet("dev-1")
	require.Nil(t, err)
	require.Equal(t, "v1.5.0", d.PinnedVersion)
	require.Equal(t, "Kitchen clock", d.DisplayName)

	require.Nil(t, s.Pin("dev-1", ""))
	d, err = s.DeviceGet("dev-1")
	require.Nil(t, err)
	require.Equal(t, "", d.PinnedVersion)
}

func TestBlobColumns(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	static := &StaticInfo{Product: "clock", BoardType: "esp32"}
	_, _, err := s.UpsertFromHeartbeat("dev-1", now, Telemetry{}, static)
	require.Nil(t, err)

	later := now.Add(time.Minute)
	require.Nil(t, s.SetDisplaySnapshot("dev-1", `{"lines":["12:30"]}`, later))
	require.Nil(t, s.SetLastEvent("dev-1", `{"event":"button"}`, later))

	d, err := s.DeviceGet("dev-1")
	require.Nil(t, err)
	require.Equal(t, `{"lines":["12:30"]}`, d.DisplaySnapshot)
	require.Equal(t, `{"event":"button"}`, d.LastEvent)
	// Blob writes advance last seen with the caller's clock
	require.Equal(t, later.Unix(), d.LastSeen)
}

func TestHeartbeatSamplesAndRetention(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	static := &StaticInfo{Product: "clock", BoardType: "esp32"}
	_, _, err := s.UpsertFromHeartbeat("dev-1", now, Telemetry{}, static)
	require.Nil(t, err)

	// A sample past the retention window gets pruned by the next insert
	require.Nil(t, s.RecordHeartbeat("dev-1", now.Add(-25*time.Hour), -50, 1, 1000))
	require.Nil(t, s.RecordHeartbeat("dev-1", now.Add(-2*time.Minute), -51, 2, 2000))
	require.Nil(t, s.RecordHeartbeat("dev-1", now.Add(-time.Minute), -52, 3, 3000))
	require.Nil(t, s.RecordHeartbeat("dev-1", now, -53, 4, 4000))

	samples, err := s.RecentSamples("dev-1", now.Add(-24*time.Hour))
	require.Nil(t, err)
	require.Len(t, samples, 3)
	// Ascending by time
	require.Equal(t, int64(-51), samples[0].Rssi)
	require.Equal(t, int64(-53), samples[2].Rssi)

	// Since filters the window
	samples, err = s.RecentSamples("dev-1", now.Add(-90*time.Second))
	require.Nil(t, err)
	require.Len(t, samples, 2)

	// Other devices never see these samples
	samples, err = s.RecentSamples("dev-2", now.Add(-24*time.Hour))
	require.Nil(t, err)
	require.Len(t, samples, 0)
}
