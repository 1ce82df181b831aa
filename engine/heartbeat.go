// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"time"

	"github.com/fleetforge/fleet-engine/storage"
	"github.com/fleetforge/fleet-engine/storage/fleet"
)

const (
	// OfflineThreshold is how long a device may stay silent before it is
	// reported offline rather than merely degraded.
	OfflineThreshold = 15 * time.Minute

	// Degraded detection looks at the last hour of samples. A gap longer
	// than checkinGap counts as one missed checkin; a device is degraded
	// when at least missedRunLimit misses happen back to back.
	degradedWindow = time.Hour
	checkinGap     = 90 * time.Second
	minSamples     = 3
	missedRunLimit = 2
)

// Degraded reports whether the sample pattern shows consecutive missed
// checkins. Samples must be ascending by time; fewer than minSamples is
// insufficient data and never degraded.
func Degraded(samples []fleet.Sample) bool {
	if len(samples) < minSamples {
		return false
	}
	run, longest := 0, 0
	for i := 1; i < len(samples); i++ {
		gap := time.Duration(samples[i].Ts-samples[i-1].Ts) * time.Second
		if gap > checkinGap {
			run++
			if run > longest {
				longest = run
			}
		} else {
			// A checkin on schedule resets the run
			run = 0
		}
	}
	return longest >= missedRunLimit
}

// DeviceStatus derives the combined liveness status for a device.
func (e *Engine) DeviceStatus(d *fleet.Device, now time.Time) (storage.DeviceStatus, error) {
	if now.Sub(time.Unix(d.LastSeen, 0)) >= OfflineThreshold {
		return storage.DeviceOffline, nil
	}
	samples, err := e.fleet.RecentSamples(d.DeviceID, now.Add(-degradedWindow))
	if err != nil {
		return "", err
	}
	if Degraded(samples) {
		return storage.DeviceDegraded, nil
	}
	return storage.DeviceOnline, nil
}
