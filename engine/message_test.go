// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicParse(t *testing.T) {
	topics := TopicScheme{Root: "fleet"}

	for topic, expected := range map[string]Message{
		"fleet/dev/heartbeat/dev-1":        {EnvDev, KindHeartbeat, "dev-1"},
		"fleet/prod/heartbeat/dev-1":       {EnvProd, KindHeartbeat, "dev-1"},
		"fleet/dev/info/dev-1":             {EnvDev, KindInfo, "dev-1"},
		"fleet/dev/ota/start/dev-1":        {EnvDev, KindOtaStart, "dev-1"},
		"fleet/dev/ota/progress/dev-1":     {EnvDev, KindOtaProgress, "dev-1"},
		"fleet/prod/ota/complete/dev-1":    {EnvProd, KindOtaComplete, "dev-1"},
		"fleet/dev/display/snapshot/dev-1": {EnvDev, KindDisplaySnapshot, "dev-1"},
		"fleet/dev/event/dev-1":            {EnvDev, KindEventLog, "dev-1"},
	} {
		msg, err := topics.Parse(topic)
		require.Nil(t, err, topic)
		assert.Equal(t, expected, msg, topic)
	}
}

func TestTopicParseRejects(t *testing.T) {
	topics := TopicScheme{Root: "fleet"}

	for _, topic := range []string{
		"",
		"fleet",
		"fleet/dev",
		"fleet/dev/heartbeat",
		"other/dev/heartbeat/dev-1",
		"fleet/staging/heartbeat/dev-1",
		"fleet/dev/bogus/dev-1",
		"fleet/dev/ota/dev-1",
		"fleet/dev/ota/reset/dev-1",
		"fleet/dev/display/dev-1",
		"fleet/dev/heartbeat/",
	} {
		_, err := topics.Parse(topic)
		require.NotNil(t, err, "expected parse failure for %q", topic)
	}
}

func TestSubscriptionFilters(t *testing.T) {
	topics := TopicScheme{Root: "fleet"}
	filters := topics.SubscriptionFilters(EnvProd)

	// Heartbeats are the only fire-and-forget subscription
	require.Equal(t, byte(0), filters["fleet/prod/heartbeat/+"])
	for filter, qos := range filters {
		if filter != "fleet/prod/heartbeat/+" {
			assert.Equal(t, byte(1), qos, filter)
		}
	}
	assert.Len(t, filters, 7)
}

func TestOutboundTopics(t *testing.T) {
	topics := TopicScheme{Root: "fleet"}
	assert.Equal(t, "fleet/dev/command/dev-1", topics.Command(EnvDev, "dev-1"))
	assert.Equal(t, "fleet/prod/config/dev-1", topics.Config(EnvProd, "dev-1"))
	assert.Equal(t, "fleet/dev/version/response/dev-1", topics.VersionResponse(EnvDev, "dev-1"))
}

func TestOtaCompleteSucceeded(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }

	for name, tt := range map[string]struct {
		payload   OtaCompletePayload
		ok, known bool
	}{
		"status success":          {OtaCompletePayload{Status: "success"}, true, true},
		"status failed":           {OtaCompletePayload{Status: "failed"}, false, true},
		"legacy success":          {OtaCompletePayload{Success: boolPtr(true)}, true, true},
		"legacy failure":          {OtaCompletePayload{Success: boolPtr(false)}, false, true},
		"status wins over legacy": {OtaCompletePayload{Status: "failed", Success: boolPtr(true)}, false, true},
		"neither":                 {OtaCompletePayload{}, false, false},
	} {
		ok, known := tt.payload.Succeeded()
		assert.Equal(t, tt.ok, ok, name)
		assert.Equal(t, tt.known, known, name)
	}
}

func TestOtaCompleteReason(t *testing.T) {
	assert.Equal(t, "flash failed", OtaCompletePayload{Error: "flash failed"}.Reason())
	assert.Equal(t, "oom", OtaCompletePayload{ErrorMessage: "oom"}.Reason())
	assert.Equal(t, "new", OtaCompletePayload{Error: "new", ErrorMessage: "old"}.Reason())
	assert.Equal(t, "", OtaCompletePayload{}.Reason())
}
