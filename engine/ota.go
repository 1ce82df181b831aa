// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleet-engine/context"
	"github.com/fleetforge/fleet-engine/storage"
	"github.com/fleetforge/fleet-engine/storage/ota"
	"github.com/fleetforge/fleet-engine/version"
)

const (
	// A session with no signal for this long is considered abandoned.
	SessionTimeout = 5 * time.Minute

	supersededReason = "interrupted by new attempt"
)

func (e *Engine) handleOtaStart(log *slog.Logger, msg Message, payload []byte) {
	var start OtaStartPayload
	if err := json.Unmarshal(payload, &start); err != nil {
		log.Warn("dropping unparseable ota start", "error", err)
		return
	}
	now := e.now()

	sessionID := start.SessionID
	if sessionID == "" {
		// Old firmware starts updates without a correlation token. Generate
		// one so progress/complete handling has something to reference,
		// even though this device cannot echo it back.
		sessionID = uuid.NewString()
		log.Info("ota start without session id, generated fallback", "session", sessionID)
	} else if existing, err := e.ota.Get(sessionID); err != nil {
		log.Error("failed to look up session for ota start", "session", sessionID, "error", err)
		return
	} else if existing != nil {
		// QoS 1 redelivers: the same start arriving twice must not kill
		// its own session or create a duplicate row.
		log.Info("ignoring duplicate ota start", "session", sessionID)
		return
	}

	// Supersession covers every other session for this device: any
	// in-flight attempt dies the moment a new one begins, no matter how
	// recent it is.
	inflight, err := e.ota.InFlightForDevice(msg.DeviceID)
	if err != nil {
		log.Error("failed to look up in-flight sessions", "error", err)
		return
	}
	for _, sess := range inflight {
		if sess.SessionID == sessionID {
			continue
		}
		if _, err = e.ota.Complete(sess.SessionID, ota.SessionFailed, supersededReason, now); err != nil {
			log.Error("failed to supersede session", "session", sess.SessionID, "error", err)
			return
		}
		log.Info("superseded in-flight session", "session", sess.SessionID)
	}

	// A start for a device the registry has never seen is a pre-flash
	// bench update rather than a network one.
	updateType := storage.UpdateTypeNetwork
	deviceID := &msg.DeviceID
	if d, err := e.fleet.DeviceGet(msg.DeviceID); err != nil {
		log.Error("failed to look up device for ota start", "error", err)
		return
	} else if d == nil {
		updateType = storage.UpdateTypeDirectFlash
	}

	sess := ota.Session{
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Product:    start.Product,
		Platform:   start.Platform,
		OldVersion: start.OldVersion,
		NewVersion: start.NewVersion,
		Status:     ota.SessionStarted,
		UpdateType: updateType,
		StartedAt:  now.Unix(),
	}
	if err = e.ota.Create(sess); err != nil {
		log.Error("failed to create ota session", "session", sessionID, "error", err)
		return
	}
	log.Info("ota session started", "session", sessionID,
		"old", start.OldVersion, "new", start.NewVersion, "type", string(updateType))
}

func (e *Engine) handleOtaProgress(log *slog.Logger, msg Message, payload []byte) {
	var progress OtaProgressPayload
	if err := json.Unmarshal(payload, &progress); err != nil {
		log.Warn("dropping unparseable ota progress", "error", err)
		return
	}
	sess, err := e.lookupSession(msg.DeviceID, progress.SessionID)
	if err != nil {
		log.Error("failed to look up session for progress", "error", err)
		return
	}
	if sess == nil {
		log.Warn("ota progress without a matching session", "session", progress.SessionID)
		return
	}
	moved, err := e.ota.MarkDownloading(sess.SessionID, progress.Progress, e.now())
	if err != nil {
		log.Error("failed to record ota progress", "session", sess.SessionID, "error", err)
		return
	}
	if !moved {
		// Terminal already - progress arrived after completion or timeout
		log.Info("ignoring progress for terminal session", "session", sess.SessionID)
		return
	}
	log.Info("ota progress", "session", sess.SessionID, "progress", progress.Progress)
}

func (e *Engine) handleOtaComplete(log *slog.Logger, msg Message, payload []byte) {
	var complete OtaCompletePayload
	if err := json.Unmarshal(payload, &complete); err != nil {
		log.Warn("dropping unparseable ota complete", "error", err)
		return
	}
	ok, known := complete.Succeeded()
	if !known {
		log.Warn("dropping ota complete without status or success field")
		return
	}
	sess, err := e.lookupSession(msg.DeviceID, complete.SessionID)
	if err != nil {
		log.Error("failed to look up session for completion", "error", err)
		return
	}
	if sess == nil {
		log.Warn("ota complete without a matching session", "session", complete.SessionID)
		return
	}

	status := ota.SessionFailed
	reason := complete.Reason()
	if ok {
		status = ota.SessionSuccess
		reason = ""
	} else if reason == "" {
		reason = "device reported failure"
	}
	moved, err := e.ota.Complete(sess.SessionID, status, reason, e.now())
	if err != nil {
		log.Error("failed to complete ota session", "session", sess.SessionID, "error", err)
		return
	}
	if !moved {
		log.Info("ignoring completion for terminal session", "session", sess.SessionID)
		return
	}
	log.Info("ota session completed", "session", sess.SessionID, "status", string(status), "reason", reason)
}

// lookupSession finds the session a progress/complete message refers to:
// exact id match when the payload carries one, otherwise the most recently
// started in-flight session for the device. The fallback is genuinely
// ambiguous when several sessions race for one device; deployed firmware
// depends on this exact behavior, so it must not be strengthened.
func (e *Engine) lookupSession(deviceID, sessionID string) (*ota.Session, error) {
	if sessionID != "" {
		return e.ota.Get(sessionID)
	}
	inflight, err := e.ota.InFlightForDevice(deviceID)
	if err != nil || len(inflight) == 0 {
		return nil, err
	}
	return &inflight[0], nil
}

// reconcileSessions infers session outcomes from a heartbeat's reported
// firmware version when the explicit completion signal was lost. Every
// in-flight session for the device is resolved, not just the most recent:
// races can leave several behind and all must converge.
func (e *Engine) reconcileSessions(log *slog.Logger, deviceID, reportedVersion string, now time.Time) {
	if reportedVersion == "" {
		return
	}
	inflight, err := e.ota.InFlightForDevice(deviceID)
	if err != nil {
		log.Error("failed to look up sessions for reconciliation", "error", err)
		return
	}
	for _, sess := range inflight {
		if version.NormalizedEqual(reportedVersion, sess.NewVersion) {
			if _, err = e.ota.Complete(sess.SessionID, ota.SessionSuccess, "", now); err != nil {
				log.Error("failed to reconcile session to success", "session", sess.SessionID, "error", err)
				continue
			}
			log.Info("reconciled session from heartbeat", "session", sess.SessionID, "version", reportedVersion)
		} else if sessionInactive(sess, now) {
			reason := fmt.Sprintf("device reports version %s, expected %s", reportedVersion, sess.NewVersion)
			if _, err = e.ota.Complete(sess.SessionID, ota.SessionFailed, reason, now); err != nil {
				log.Error("failed to reconcile session to failure", "session", sess.SessionID, "error", err)
				continue
			}
			log.Warn("failed session by heartbeat reconciliation", "session", sess.SessionID, "reason", reason)
		}
		// A mismatched version on a still-active session is left alone:
		// the device may simply not have rebooted into the new image yet.
	}
}

// SweepTimeouts fails every in-flight session that has been inactive beyond
// the timeout threshold, regardless of heartbeat activity. Runs from the
// periodic daemon; transitions are status-guarded so a race with the event
// loop resolves to whichever write lands first.
func (e *Engine) SweepTimeouts(now time.Time) error {
	log := context.CtxGetLog(e.context)
	inflight, err := e.ota.AllInFlight()
	if err != nil {
		return fmt.Errorf("failed to scan in-flight sessions: %w", err)
	}
	for _, sess := range inflight {
		if !sessionInactive(sess, now) {
			continue
		}
		var reason string
		if sess.LastProgressAt == nil {
			reason = "update timed out: no progress received"
		} else {
			reason = fmt.Sprintf("update stalled at %d%% after partial progress", sess.DownloadProgress)
		}
		if _, err := e.ota.Complete(sess.SessionID, ota.SessionFailed, reason, now); err != nil {
			log.Error("failed to time out session", "session", sess.SessionID, "error", err)
			continue
		}
		log.Warn("timed out ota session", "session", sess.SessionID, "reason", reason)
	}
	return nil
}

// sessionInactive: the start is older than the timeout AND no progress
// signal has landed inside the window either.
func sessionInactive(sess ota.Session, now time.Time) bool {
	cutoff := now.Add(-SessionTimeout).Unix()
	if sess.StartedAt > cutoff {
		return false
	}
	return sess.LastProgressAt == nil || *sess.LastProgressAt <= cutoff
}
