// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetforge/fleet-engine/storage"
	"github.com/fleetforge/fleet-engine/storage/fleet"
)

// samplesAt builds ascending samples from second offsets relative to a base.
func samplesAt(base time.Time, offsets ...int64) []fleet.Sample {
	samples := make([]fleet.Sample, len(offsets))
	for i, off := range offsets {
		samples[i] = fleet.Sample{Ts: base.Unix() + off}
	}
	return samples
}

func TestDegraded(t *testing.T) {
	base := time.Now().Add(-time.Hour)

	// Regular 60s checkins: healthy
	require.False(t, Degraded(samplesAt(base, 0, 60, 120, 180, 240)))

	// Too few samples is insufficient data, never degraded
	require.False(t, Degraded(samplesAt(base, 0, 600)))
	require.False(t, Degraded(nil))

	// One isolated missed checkin does not degrade
	require.False(t, Degraded(samplesAt(base, 0, 60, 180, 240, 300)))

	// Two consecutive missed checkins do
	require.True(t, Degraded(samplesAt(base, 0, 60, 180, 300, 360)))

	// Misses interleaved with on-time checkins reset the run
	require.False(t, Degraded(samplesAt(base, 0, 120, 180, 300, 360)))

	// A long outage is a run of misses
	require.True(t, Degraded(samplesAt(base, 0, 60, 1200, 1500)))
}

func TestDeviceStatus(t *testing.T) {
	te := newTestEngine(t)
	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())
	d := te.device("dev-1")

	status, err := te.e.DeviceStatus(d, te.now)
	require.Nil(t, err)
	require.Equal(t, storage.DeviceOnline, status)

	// Silence >= 15 minutes means offline
	status, err = te.e.DeviceStatus(d, te.now.Add(OfflineThreshold))
	require.Nil(t, err)
	require.Equal(t, storage.DeviceOffline, status)

	// A pattern of consecutive misses within the hour means degraded
	te2 := newTestEngine(t)
	start := te2.now
	for _, off := range []time.Duration{0, time.Minute, 4 * time.Minute, 7 * time.Minute, 8 * time.Minute} {
		te2.now = start.Add(off)
		te2.send("fleet/dev/heartbeat/dev-2", legacyHeartbeat())
	}
	d2 := te2.device("dev-2")
	status, err = te2.e.DeviceStatus(d2, te2.now)
	require.Nil(t, err)
	require.Equal(t, storage.DeviceDegraded, status)
}
