// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Environment is the dev/prod partition applied to all topic traffic. One
// engine instance serves exactly one environment; the token always comes
// from topic structure, never from payload content, because
// payload-declared environment is untrusted device-reported data.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
)

func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvDev, EnvProd:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("unknown environment %q: must be dev or prod", s)
	}
}

// MessageKind classifies an inbound topic by its category segment.
type MessageKind int

const (
	KindHeartbeat MessageKind = iota
	KindInfo
	KindOtaStart
	KindOtaProgress
	KindOtaComplete
	KindDisplaySnapshot
	KindEventLog
)

func (k MessageKind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindInfo:
		return "info"
	case KindOtaStart:
		return "ota-start"
	case KindOtaProgress:
		return "ota-progress"
	case KindOtaComplete:
		return "ota-complete"
	case KindDisplaySnapshot:
		return "display-snapshot"
	case KindEventLog:
		return "event-log"
	default:
		return "unknown"
	}
}

// Message is the parsed form of an inbound topic:
// {root}/{env}/{category}/{deviceId}[...], with OTA categories carrying an
// action word between category and device id.
type Message struct {
	Env      Environment
	Kind     MessageKind
	DeviceID string
}

// TopicScheme builds and parses the environment-qualified topic tree under
// a fixed root prefix.
type TopicScheme struct {
	Root string
}

func (t TopicScheme) Parse(topic string) (Message, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != t.Root {
		return Message{}, fmt.Errorf("malformed topic %q: expected %s/{env}/{category}/...", topic, t.Root)
	}
	env, err := ParseEnvironment(parts[1])
	if err != nil {
		return Message{}, fmt.Errorf("rejecting topic %q: %w", topic, err)
	}
	msg := Message{Env: env}
	switch parts[2] {
	case "heartbeat":
		msg.Kind = KindHeartbeat
		msg.DeviceID = parts[3]
	case "info":
		msg.Kind = KindInfo
		msg.DeviceID = parts[3]
	case "event":
		msg.Kind = KindEventLog
		msg.DeviceID = parts[3]
	case "ota":
		if len(parts) < 5 {
			return Message{}, fmt.Errorf("malformed ota topic %q: missing device id", topic)
		}
		switch parts[3] {
		case "start":
			msg.Kind = KindOtaStart
		case "progress":
			msg.Kind = KindOtaProgress
		case "complete":
			msg.Kind = KindOtaComplete
		default:
			return Message{}, fmt.Errorf("unknown ota action %q in topic %q", parts[3], topic)
		}
		msg.DeviceID = parts[4]
	case "display":
		if len(parts) < 5 || parts[3] != "snapshot" {
			return Message{}, fmt.Errorf("unknown display topic %q", topic)
		}
		msg.Kind = KindDisplaySnapshot
		msg.DeviceID = parts[4]
	default:
		return Message{}, fmt.Errorf("unknown message category %q in topic %q", parts[2], topic)
	}
	if msg.DeviceID == "" {
		return Message{}, fmt.Errorf("malformed topic %q: empty device id", topic)
	}
	return msg, nil
}

// Outbound topic builders.

func (t TopicScheme) Command(env Environment, deviceID string) string {
	return fmt.Sprintf("%s/%s/command/%s", t.Root, env, deviceID)
}

func (t TopicScheme) Config(env Environment, deviceID string) string {
	return fmt.Sprintf("%s/%s/config/%s", t.Root, env, deviceID)
}

func (t TopicScheme) VersionResponse(env Environment, deviceID string) string {
	return fmt.Sprintf("%s/%s/version/response/%s", t.Root, env, deviceID)
}

// SubscriptionFilters returns the broker subscription set for one
// environment with per-category delivery guarantees: heartbeats are
// fire-and-forget, everything else is broker-queued across disconnects.
func (t TopicScheme) SubscriptionFilters(env Environment) map[string]byte {
	prefix := t.Root + "/" + string(env)
	return map[string]byte{
		prefix + "/heartbeat/+":        0,
		prefix + "/info/+":             1,
		prefix + "/ota/start/+":        1,
		prefix + "/ota/progress/+":     1,
		prefix + "/ota/complete/+":     1,
		prefix + "/display/snapshot/#": 1,
		prefix + "/event/+":            1,
	}
}

// Inbound payload shapes. Unknown fields are ignored; missing fields take
// zero values and handlers decide what is mandatory.

type HeartbeatPayload struct {
	Rssi     int64  `json:"rssi"`
	Uptime   int64  `json:"uptime"`
	FreeHeap int64  `json:"free_heap"`
	Ssid     string `json:"ssid"`
	IP       string `json:"ip"`

	// Legacy combined format: identity rides on the heartbeat itself.
	Product string `json:"product"`
	Board   string `json:"board"`
	Version string `json:"version"`
}

type InfoPayload struct {
	Product           string          `json:"product"`
	Board             string          `json:"board"`
	Version           string          `json:"version"`
	Config            json.RawMessage `json:"config"`
	SupportedCommands []string        `json:"supported_commands"`
}

type OtaStartPayload struct {
	SessionID  string `json:"session_id"`
	Product    string `json:"product"`
	Platform   string `json:"platform"`
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
}

type OtaProgressPayload struct {
	SessionID string `json:"session_id"`
	Progress  int64  `json:"progress"`
}

type OtaCompletePayload struct {
	SessionID string `json:"session_id"`
	// Status string takes precedence over the legacy boolean when both
	// could apply.
	Status       string `json:"status"`
	Success      *bool  `json:"success"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// Succeeded resolves the completion outcome across both payload formats.
// Returns false for the second value when the payload carries neither.
func (p OtaCompletePayload) Succeeded() (ok, known bool) {
	switch p.Status {
	case "success":
		return true, true
	case "":
		if p.Success != nil {
			return *p.Success, true
		}
		return false, false
	default:
		return false, true
	}
}

// Reason returns the failure detail, preferring the modern field name.
func (p OtaCompletePayload) Reason() string {
	if p.Error != "" {
		return p.Error
	}
	return p.ErrorMessage
}
