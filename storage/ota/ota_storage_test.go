// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ota

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

func newSession(id, device string, startedAt int64) Session {
	return Session{
		SessionID:  id,
		DeviceID:   &device,
		Product:    "clock",
		Platform:   "esp32",
		OldVersion: "v1.0.0",
		NewVersion: "v1.1.0",
		Status:     SessionStarted,
		UpdateType: storage.UpdateTypeNetwork,
		StartedAt:  startedAt,
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	sess, err := s.Get("does-not-exist")
	require.Nil(t, err)
	require.Nil(t, sess)

	require.Nil(t, s.Create(newSession("sess-1", "dev-1", now.Unix())))
	sess, err = s.Get("sess-1")
	require.Nil(t, err)
	require.Equal(t, SessionStarted, sess.Status)
	require.Nil(t, sess.LastProgressAt)
	require.Nil(t, sess.CompletedAt)

	moved, err := s.MarkDownloading("sess-1", 42, now.Add(time.Minute))
	require.Nil(t, err)
	require.True(t, moved)
	sess, err = s.Get("sess-1")
	require.Nil(t, err)
	require.Equal(t, SessionDownloading, sess.Status)
	require.Equal(t, int64(42), sess.DownloadProgress)
	require.NotNil(t, sess.LastProgressAt)
	require.Equal(t, now.Add(time.Minute).Unix(), *sess.LastProgressAt)

	moved, err = s.Complete("sess-1", SessionSuccess, "", now.Add(2*time.Minute))
	require.Nil(t, err)
	require.True(t, moved)
	sess, err = s.Get("sess-1")
	require.Nil(t, err)
	require.Equal(t, SessionSuccess, sess.Status)
	require.Equal(t, int64(100), sess.DownloadProgress)
	require.NotNil(t, sess.CompletedAt)

	// Terminal sessions reject further transitions
	moved, err = s.Complete("sess-1", SessionFailed, "too late", now.Add(3*time.Minute))
	require.Nil(t, err)
	require.False(t, moved)
	moved, err = s.MarkDownloading("sess-1", 99, now.Add(3*time.Minute))
	require.Nil(t, err)
	require.False(t, moved)
	sess, err = s.Get("sess-1")
	require.Nil(t, err)
	require.Equal(t, SessionSuccess, sess.Status)
	require.Equal(t, "", sess.ErrorMessage)
}

func TestCompleteFailureKeepsProgress(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	require.Nil(t, s.Create(newSession("sess-1", "dev-1", now.Unix())))

	_, err := s.MarkDownloading("sess-1", 73, now)
	require.Nil(t, err)
	moved, err := s.Complete("sess-1", SessionFailed, "update stalled", now.Add(time.Minute))
	require.Nil(t, err)
	require.True(t, moved)

	sess, err := s.Get("sess-1")
	require.Nil(t, err)
	require.Equal(t, SessionFailed, sess.Status)
	require.Equal(t, int64(73), sess.DownloadProgress)
	require.Equal(t, "update stalled", sess.ErrorMessage)
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	s := newTestStorage(t)
	require.Nil(t, s.Create(newSession("sess-1", "dev-1", time.Now().Unix())))

	_, err := s.Complete("sess-1", SessionDownloading, "", time.Now())
	require.NotNil(t, err)
}

func TestInFlightQueries(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now().Unix()

	require.Nil(t, s.Create(newSession("sess-1", "dev-1", now-30)))
	require.Nil(t, s.Create(newSession("sess-2", "dev-1", now-20)))
	require.Nil(t, s.Create(newSession("sess-3", "dev-2", now-10)))
	_, err := s.Complete("sess-2", SessionFailed, "interrupted by new attempt", time.Now())
	require.Nil(t, err)

	// Per device, most recently started first
	inflight, err := s.InFlightForDevice("dev-1")
	require.Nil(t, err)
	require.Len(t, inflight, 1)
	require.Equal(t, "sess-1", inflight[0].SessionID)

	// Across devices, oldest first
	all, err := s.AllInFlight()
	require.Nil(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "sess-1", all[0].SessionID)
	require.Equal(t, "sess-3", all[1].SessionID)
}

func TestList(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now().Unix()

	require.Nil(t, s.Create(newSession("sess-1", "dev-1", now-30)))
	require.Nil(t, s.Create(newSession("sess-2", "dev-1", now-20)))
	require.Nil(t, s.Create(newSession("sess-3", "dev-2", now-10)))
	_, err := s.Complete("sess-1", SessionSuccess, "", time.Now())
	require.Nil(t, err)

	// Most recent first
	sessions, err := s.List(ListOpts{})
	require.Nil(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, "sess-3", sessions[0].SessionID)

	sessions, err = s.List(ListOpts{DeviceID: "dev-1"})
	require.Nil(t, err)
	require.Len(t, sessions, 2)

	sessions, err = s.List(ListOpts{Status: SessionSuccess})
	require.Nil(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "sess-1", sessions[0].SessionID)

	sessions, err = s.List(ListOpts{DeviceID: "dev-1", Status: SessionStarted})
	require.Nil(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "sess-2", sessions[0].SessionID)

	sessions, err = s.List(ListOpts{Limit: 1, Offset: 1})
	require.Nil(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "sess-2", sessions[0].SessionID)
}
