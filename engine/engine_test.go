// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetforge/fleet-engine/catalog"
	"github.com/fleetforge/fleet-engine/context"
	"github.com/fleetforge/fleet-engine/storage"
	"github.com/fleetforge/fleet-engine/storage/fleet"
	"github.com/fleetforge/fleet-engine/storage/ota"
)

type published struct {
	Topic   string
	Qos     byte
	Payload []byte
}

type pubRecorder struct {
	mu   sync.Mutex
	msgs []published
}

func (p *pubRecorder) Publish(topic string, qos byte, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{Topic: topic, Qos: qos, Payload: payload})
	return nil
}

func (p *pubRecorder) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published{}, p.msgs...)
}

type fakeCatalog struct {
	entries map[string]*catalog.VersionInfo
}

func (c *fakeCatalog) set(product, platform, key string, info *catalog.VersionInfo) {
	c.entries[product+"/"+platform+"/"+key] = info
}

func (c *fakeCatalog) Target(product, platform string) (*catalog.VersionInfo, error) {
	return c.entries[product+"/"+platform+"/latest"], nil
}

func (c *fakeCatalog) Specific(product, platform, ver string) (*catalog.VersionInfo, error) {
	return c.entries[product+"/"+platform+"/"+ver], nil
}

type testEngine struct {
	t   *testing.T
	e   *Engine
	pub *pubRecorder
	cat *fakeCatalog
	now time.Time
}

func newTestEngine(t *testing.T) *testEngine {
	log, err := context.InitLogger("debug")
	require.Nil(t, err)
	ctx := context.CtxWithLog(context.Background(), log)

	db, err := storage.NewDb(filepath.Join(t.TempDir(), storage.DbFile))
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, db.Close())
	})
	fleetS, err := fleet.NewStorage(db)
	require.Nil(t, err)
	otaS, err := ota.NewStorage(db)
	require.Nil(t, err)

	cat := &fakeCatalog{entries: map[string]*catalog.VersionInfo{}}
	pub := &pubRecorder{}
	te := &testEngine{
		t:   t,
		pub: pub,
		cat: cat,
		now: time.Now(),
	}
	te.e = New(ctx, EnvDev, TopicScheme{Root: "fleet"}, fleetS, otaS, cat, pub)
	te.e.now = func() time.Time { return te.now }
	return te
}

func (te *testEngine) send(topic string, payload any) {
	data, err := json.Marshal(payload)
	require.Nil(te.t, err)
	te.e.HandleMessage(topic, data)
}

func (te *testEngine) device(id string) *fleet.Device {
	d, err := te.e.Fleet().DeviceGet(id)
	require.Nil(te.t, err)
	return d
}

func (te *testEngine) session(id string) *ota.Session {
	s, err := te.e.Sessions().Get(id)
	require.Nil(te.t, err)
	require.NotNil(te.t, s)
	return s
}

func legacyHeartbeat() map[string]any {
	return map[string]any{
		"rssi": -55, "uptime": 120, "free_heap": 43000,
		"ssid": "lab", "ip": "10.0.0.7",
		"product": "clock", "board": "esp32", "version": "v1.0.0",
	}
}

func TestHeartbeatRegistersLegacyDevice(t *testing.T) {
	te := newTestEngine(t)

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())

	d := te.device("dev-1")
	require.NotNil(t, d)
	require.Equal(t, "clock", d.Product)
	require.Equal(t, "esp32", d.BoardType)
	require.Equal(t, "v1.0.0", d.FirmwareVersion)
	require.Equal(t, int64(-55), d.Rssi)
	require.Equal(t, te.now.Unix(), d.LastSeen)

	samples, err := te.e.Fleet().RecentSamples("dev-1", te.now.Add(-time.Minute))
	require.Nil(t, err)
	require.Len(t, samples, 1)
}

func TestHeartbeatUnknownDeviceWithoutIdentity(t *testing.T) {
	te := newTestEngine(t)

	// The new heartbeat format carries no identity; an unknown device
	// cannot register from it and must wait for an info message.
	te.send("fleet/dev/heartbeat/dev-1", map[string]any{"rssi": -60, "uptime": 5})
	require.Nil(t, te.device("dev-1"))

	te.send("fleet/dev/info/dev-1", map[string]any{
		"product": "clock", "board": "esp32", "version": "v1.0.0",
		"supported_commands": []string{"reboot"},
	})
	d := te.device("dev-1")
	require.NotNil(t, d)
	require.Equal(t, []string{"reboot"}, d.SupportedCommands)

	// Now the lean heartbeat applies and does not clear identity
	te.send("fleet/dev/heartbeat/dev-1", map[string]any{"rssi": -61, "uptime": 6})
	d = te.device("dev-1")
	require.Equal(t, "clock", d.Product)
	require.Equal(t, int64(-61), d.Rssi)
}

func TestInfoRequiresIdentityFields(t *testing.T) {
	te := newTestEngine(t)

	te.send("fleet/dev/info/dev-1", map[string]any{"version": "v1.0.0"})
	require.Nil(t, te.device("dev-1"))
}

func TestEnvironmentScopeEnforced(t *testing.T) {
	te := newTestEngine(t)

	// Engine serves dev; replayed prod traffic must not touch its state
	te.send("fleet/prod/heartbeat/dev-1", legacyHeartbeat())
	require.Nil(t, te.device("dev-1"))
}

func TestHeartbeatRestoresSoftDeletedDevice(t *testing.T) {
	te := newTestEngine(t)

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())
	require.Nil(t, te.e.Fleet().SoftDelete("dev-1", te.now))
	require.NotNil(t, te.device("dev-1").DeletedAt)

	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())
	require.Nil(t, te.device("dev-1").DeletedAt)
}

func TestBlobMessages(t *testing.T) {
	te := newTestEngine(t)
	te.send("fleet/dev/heartbeat/dev-1", legacyHeartbeat())

	te.now = te.now.Add(time.Minute)
	te.send("fleet/dev/display/snapshot/dev-1", map[string]any{"lines": []string{"12:30", "21C"}})
	te.send("fleet/dev/event/dev-1", map[string]any{"event": "button", "count": 3})

	d := te.device("dev-1")
	require.Contains(t, d.DisplaySnapshot, "12:30")
	require.Contains(t, d.LastEvent, "button")
	// Blob messages count as liveness on the engine clock
	require.Equal(t, te.now.Unix(), d.LastSeen)

	// Invalid JSON is dropped, the stored blob stays intact
	te.e.HandleMessage("fleet/dev/event/dev-1", []byte("{not json"))
	require.Contains(t, te.device("dev-1").LastEvent, "button")
}

func TestMalformedTopicsDropped(t *testing.T) {
	te := newTestEngine(t)

	for _, topic := range []string{
		"other/dev/heartbeat/dev-1",
		"fleet/staging/heartbeat/dev-1",
		"fleet/dev/bogus/dev-1",
		"fleet/dev/heartbeat",
	} {
		te.e.HandleMessage(topic, []byte("{}"))
	}
	require.Empty(t, te.pub.all())
}
