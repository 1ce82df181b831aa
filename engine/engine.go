// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package engine is the fleet state engine: it ingests broker messages,
// maintains device liveness, and drives OTA update sessions through their
// lifecycle, including reconciliation from telemetry and time-based
// timeout sweeps.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/fleet-engine/catalog"
	"github.com/fleetforge/fleet-engine/context"
	"github.com/fleetforge/fleet-engine/storage/fleet"
	"github.com/fleetforge/fleet-engine/storage/ota"
)

// Publisher is the outbound half of the broker connection. Injected rather
// than reached through any process-global client so every component that
// publishes declares the dependency.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

type Engine struct {
	context context.Context
	env     Environment
	topics  TopicScheme

	fleet   *fleet.Storage
	ota     *ota.Storage
	catalog catalog.Catalog

	commands *CommandDispatcher

	// now is swappable for tests
	now func() time.Time
}

func New(ctx context.Context, env Environment, topics TopicScheme,
	fleetS *fleet.Storage, otaS *ota.Storage, cat catalog.Catalog, pub Publisher) *Engine {
	log := context.CtxGetLog(ctx).With("env", string(env))
	ctx = context.CtxWithLog(ctx, log)
	return &Engine{
		context:  ctx,
		env:      env,
		topics:   topics,
		fleet:    fleetS,
		ota:      otaS,
		catalog:  cat,
		commands: NewCommandDispatcher(pub, topics, env),
		now:      time.Now,
	}
}

func (e *Engine) Commands() *CommandDispatcher {
	return e.commands
}

func (e *Engine) Fleet() *fleet.Storage {
	return e.fleet
}

func (e *Engine) Sessions() *ota.Storage {
	return e.ota
}

// HandleMessage is the single entry point for inbound broker traffic. The
// broker client delivers messages serially on one goroutine; handlers stay
// short and never block on anything beyond a database write. A malformed
// message is logged and dropped - nothing here may take the event loop down.
func (e *Engine) HandleMessage(topic string, payload []byte) {
	log := context.CtxGetLog(e.context)
	msg, err := e.topics.Parse(topic)
	if err != nil {
		log.Warn("dropping message with unroutable topic", "topic", topic, "error", err)
		return
	}
	if msg.Env != e.env {
		// Subscriptions are already scoped, but a persistent broker
		// session can replay traffic subscribed under a previous
		// configuration. Never let it touch this environment's state.
		log.Warn("dropping message outside environment scope", "topic", topic, "msg-env", string(msg.Env))
		return
	}
	log = log.With("device", msg.DeviceID, "kind", msg.Kind.String())

	switch msg.Kind {
	case KindHeartbeat:
		e.handleHeartbeat(log, msg, payload)
	case KindInfo:
		e.handleInfo(log, msg, payload)
	case KindOtaStart:
		e.handleOtaStart(log, msg, payload)
	case KindOtaProgress:
		e.handleOtaProgress(log, msg, payload)
	case KindOtaComplete:
		e.handleOtaComplete(log, msg, payload)
	case KindDisplaySnapshot:
		e.handleBlob(log, msg, payload, e.fleet.SetDisplaySnapshot)
	case KindEventLog:
		e.handleBlob(log, msg, payload, e.fleet.SetLastEvent)
	}
}

func (e *Engine) handleHeartbeat(log *slog.Logger, msg Message, payload []byte) {
	var hb HeartbeatPayload
	if err := json.Unmarshal(payload, &hb); err != nil {
		log.Warn("dropping unparseable heartbeat", "error", err)
		return
	}
	now := e.now()

	// The legacy combined format carries identity on the heartbeat and is
	// enough to register an unknown device; the new format is not.
	var static *fleet.StaticInfo
	if hb.Product != "" && hb.Board != "" {
		static = &fleet.StaticInfo{Product: hb.Product, BoardType: hb.Board, FirmwareVersion: hb.Version}
	}
	telemetry := fleet.Telemetry{
		Rssi: hb.Rssi, Uptime: hb.Uptime, FreeHeap: hb.FreeHeap,
		Ssid: hb.Ssid, IPAddress: hb.IP,
	}
	d, created, err := e.fleet.UpsertFromHeartbeat(msg.DeviceID, now, telemetry, static)
	if err != nil {
		log.Error("failed to apply heartbeat", "error", err)
		return
	}
	if d == nil {
		log.Warn("heartbeat from unknown device without identity fields, awaiting info registration")
		return
	}
	if created {
		log.Info("registered device from legacy heartbeat", "product", d.Product, "board", d.BoardType)
	}

	if err = e.fleet.RecordHeartbeat(msg.DeviceID, now, hb.Rssi, hb.Uptime, hb.FreeHeap); err != nil {
		log.Error("failed to record heartbeat sample", "error", err)
	}

	// The effective version falls back to the stored value when the
	// heartbeat does not carry one.
	e.reconcileSessions(log, msg.DeviceID, d.FirmwareVersion, now)
	e.evaluateTarget(log, msg.Env, d)
}

func (e *Engine) handleInfo(log *slog.Logger, msg Message, payload []byte) {
	var info InfoPayload
	if err := json.Unmarshal(payload, &info); err != nil {
		log.Warn("dropping unparseable info message", "error", err)
		return
	}
	if info.Product == "" || info.Board == "" {
		log.Warn("dropping info message without identity fields")
		return
	}
	static := fleet.StaticInfo{Product: info.Product, BoardType: info.Board, FirmwareVersion: info.Version}
	commands := info.SupportedCommands
	if commands == nil {
		commands = []string{}
	}
	if _, err := e.fleet.UpsertFromInfo(msg.DeviceID, e.now(), static, string(info.Config), commands); err != nil {
		log.Error("failed to apply info message", "error", err)
		return
	}
	log.Info("device info updated", "product", info.Product, "board", info.Board, "version", info.Version)
}

func (e *Engine) handleBlob(log *slog.Logger, msg Message, payload []byte, set func(deviceID, blob string, now time.Time) error) {
	if !json.Valid(payload) {
		log.Warn("dropping unparseable payload")
		return
	}
	if err := set(msg.DeviceID, string(payload), e.now()); err != nil {
		log.Error("failed to store payload", "error", err)
	}
}

// subscriberID tags every outbound payload so overlapping engine instances
// (e.g. during a restart) can be told apart in logs. Diagnostic aid only.
func subscriberID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("fleet-engine-%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
