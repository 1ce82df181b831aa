// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"encoding/json"
	"fmt"
)

// CommandDispatcher publishes operator- and system-initiated commands and
// configuration to devices. Publishes are fire-and-forget: there is no
// device-level acknowledgement and no transactional linkage to any session
// state.
type CommandDispatcher struct {
	publisher  Publisher
	topics     TopicScheme
	defaultEnv Environment
	senderID   string
}

func NewCommandDispatcher(pub Publisher, topics TopicScheme, defaultEnv Environment) *CommandDispatcher {
	return &CommandDispatcher{
		publisher:  pub,
		topics:     topics,
		defaultEnv: defaultEnv,
		senderID:   subscriberID(),
	}
}

// SenderID is the per-process identity stamped on every outbound payload.
// When engine instances briefly overlap during a restart it lets log
// correlation tell them apart; it is not a concurrency-safety mechanism.
func (d *CommandDispatcher) SenderID() string {
	return d.senderID
}

// PublishCommand sends a command to one device. An empty environment
// defaults to the dispatcher's configured scope.
func (d *CommandDispatcher) PublishCommand(deviceID, command string, env Environment, extra map[string]any) error {
	payload := map[string]any{
		"command": command,
		"sender":  d.senderID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return d.publish(d.topics.Command(d.resolveEnv(env), deviceID), payload)
}

// PublishConfig pushes configuration values to one device.
func (d *CommandDispatcher) PublishConfig(deviceID string, env Environment, values map[string]any) error {
	payload := map[string]any{
		"config": values,
		"sender": d.senderID,
	}
	return d.publish(d.topics.Config(d.resolveEnv(env), deviceID), payload)
}

func (d *CommandDispatcher) publish(topic string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unexpected error marshalling payload for %s: %w", topic, err)
	}
	if err = d.publisher.Publish(topic, 1, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (d *CommandDispatcher) resolveEnv(env Environment) Environment {
	if env == "" {
		return d.defaultEnv
	}
	return env
}
