// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package fleet

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetforge/fleet-engine/storage"
)

type (
	// Convenience aliases for importing modules
	DbHandle = storage.DbHandle
	FsHandle = storage.FsHandle

	DeviceStatus = storage.DeviceStatus
)

var (
	NewDb = storage.NewDb
	NewFs = storage.NewFs
)

// Device is the registry row. Identity is assigned by firmware and globally
// unique. A nil DeletedAt means the device is active.
type Device struct {
	DeviceID          string   `json:"device_id"`
	Product           string   `json:"product"`
	BoardType         string   `json:"board_type"`
	FirmwareVersion   string   `json:"firmware_version"`
	DisplayName       string   `json:"display_name,omitempty"`
	PinnedVersion     string   `json:"pinned_version,omitempty"`
	SupportedCommands []string `json:"supported_commands"`
	LastConfig        string   `json:"last_config,omitempty"`
	Rssi              int64    `json:"rssi"`
	Uptime            int64    `json:"uptime"`
	FreeHeap          int64    `json:"free_heap"`
	Ssid              string   `json:"ssid,omitempty"`
	IPAddress         string   `json:"ip_address,omitempty"`
	DisplaySnapshot   string   `json:"display_snapshot,omitempty"`
	LastEvent         string   `json:"last_event,omitempty"`
	FirstSeen         int64    `json:"first_seen"`
	LastSeen          int64    `json:"last_seen"`
	LastInfoAt        int64    `json:"last_info_at,omitempty"`
	DeletedAt         *int64   `json:"deleted_at,omitempty"`
}

// Telemetry is the volatile part of a heartbeat payload.
type Telemetry struct {
	Rssi      int64
	Uptime    int64
	FreeHeap  int64
	Ssid      string
	IPAddress string
}

// StaticInfo carries the identity fields of an info message or a
// legacy-format heartbeat. A new-format heartbeat has none of these and
// must not clear the stored values.
type StaticInfo struct {
	Product         string
	BoardType       string
	FirmwareVersion string
}

// Sample is one liveness record; rows older than 24 hours are pruned
// opportunistically on each new heartbeat for the device.
type Sample struct {
	Ts       int64 `json:"ts"`
	Rssi     int64 `json:"rssi"`
	Uptime   int64 `json:"uptime"`
	FreeHeap int64 `json:"free_heap"`
}

const heartbeatRetention = 24 * time.Hour

type Storage struct {
	db *storage.DbHandle

	stmtDeviceGet             stmtDeviceGet
	stmtDeviceList            stmtDeviceList
	stmtDeviceCreate          stmtDeviceCreate
	stmtDeviceUpdateTelemetry stmtDeviceUpdateTelemetry
	stmtDeviceUpdateStatic    stmtDeviceUpdateStatic
	stmtDeviceUpdateInfo      stmtDeviceUpdateInfo
	stmtDeviceSetDeleted      stmtDeviceSetDeleted
	stmtDeviceSetPin          stmtDeviceSetPin
	stmtDeviceSetName         stmtDeviceSetName
	stmtDeviceSetBlob         map[string]stmtDeviceSetBlob
	stmtHeartbeatInsert       stmtHeartbeatInsert
	stmtHeartbeatPrune        stmtHeartbeatPrune
	stmtHeartbeatRecent       stmtHeartbeatRecent
}

func NewStorage(db *storage.DbHandle) (*Storage, error) {
	handle := Storage{db: db}

	if err := db.InitStmt(
		&handle.stmtDeviceGet,
		&handle.stmtDeviceList,
		&handle.stmtDeviceCreate,
		&handle.stmtDeviceUpdateTelemetry,
		&handle.stmtDeviceUpdateStatic,
		&handle.stmtDeviceUpdateInfo,
		&handle.stmtDeviceSetDeleted,
		&handle.stmtDeviceSetPin,
		&handle.stmtDeviceSetName,
		&handle.stmtHeartbeatInsert,
		&handle.stmtHeartbeatPrune,
		&handle.stmtHeartbeatRecent,
	); err != nil {
		return nil, err
	}

	handle.stmtDeviceSetBlob = make(map[string]stmtDeviceSetBlob, 2)
	for _, column := range []string{"display_snapshot", "last_event"} {
		stmt := stmtDeviceSetBlob{}
		if err := stmt.Init(*db, column); err != nil {
			return nil, err
		}
		handle.stmtDeviceSetBlob[column] = stmt
	}

	return &handle, nil
}

// DeviceGet returns the device row including soft-deleted ones, or nil when
// the device has never registered.
func (s Storage) DeviceGet(deviceID string) (*Device, error) {
	d := Device{DeviceID: deviceID}
	if err := s.stmtDeviceGet.run(deviceID, &d); err != nil {
		if err == sql.ErrNoRows {
			err = nil
		}
		return nil, err
	}
	return &d, nil
}

// DeviceList returns active (not soft-deleted) devices, most recently seen
// first.
func (s Storage) DeviceList(limit, offset int) ([]Device, error) {
	if limit <= 0 {
		limit = 1000
	}
	devices := make([]Device, 0, limit)
	if err := s.stmtDeviceList.run(limit, offset, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// UpsertFromHeartbeat applies a heartbeat to the registry. For an unknown
// device the legacy combined format (static identity on the heartbeat)
// creates the row directly; a new-format heartbeat from an unknown device
// is not enough to register and returns (nil, false, nil). Any message from
// a soft-deleted device restores it.
func (s Storage) UpsertFromHeartbeat(deviceID string, now time.Time, t Telemetry, static *StaticInfo) (*Device, bool, error) {
	d, err := s.DeviceGet(deviceID)
	if err != nil {
		return nil, false, err
	}
	ts := now.Unix()
	if d == nil {
		if static == nil || static.Product == "" || static.BoardType == "" {
			return nil, false, nil
		}
		if err = s.stmtDeviceCreate.run(deviceID, static.Product, static.BoardType, static.FirmwareVersion, ts); err != nil {
			return nil, false, err
		}
		if d, err = s.DeviceGet(deviceID); err != nil {
			return nil, false, err
		}
		if err = s.applyTelemetry(d, ts, t); err != nil {
			return nil, false, err
		}
		return d, true, nil
	}
	if err = s.applyTelemetry(d, ts, t); err != nil {
		return nil, false, err
	}
	if static != nil {
		if err = s.stmtDeviceUpdateStatic.run(deviceID, static.Product, static.BoardType, static.FirmwareVersion); err != nil {
			return nil, false, err
		}
		d.Product = static.Product
		d.BoardType = static.BoardType
		d.FirmwareVersion = static.FirmwareVersion
	}
	return d, false, nil
}

func (s Storage) applyTelemetry(d *Device, ts int64, t Telemetry) error {
	if err := s.stmtDeviceUpdateTelemetry.run(d.DeviceID, ts, t); err != nil {
		return err
	}
	d.Rssi = t.Rssi
	d.Uptime = t.Uptime
	d.FreeHeap = t.FreeHeap
	d.Ssid = t.Ssid
	d.IPAddress = t.IPAddress
	d.LastSeen = ts
	d.DeletedAt = nil
	return nil
}

// UpsertFromInfo creates or updates a device from a registration message,
// which always carries the full identity set.
func (s Storage) UpsertFromInfo(deviceID string, now time.Time, static StaticInfo, config string, commands []string) (*Device, error) {
	ts := now.Unix()
	d, err := s.DeviceGet(deviceID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		if err = s.stmtDeviceCreate.run(deviceID, static.Product, static.BoardType, static.FirmwareVersion, ts); err != nil {
			return nil, err
		}
	}
	commandsJSON, err := json.Marshal(commands)
	if err != nil {
		return nil, fmt.Errorf("unexpected error marshalling supported commands: %w", err)
	}
	if err = s.stmtDeviceUpdateInfo.run(
		deviceID, static.Product, static.BoardType, static.FirmwareVersion,
		config, string(commandsJSON), ts,
	); err != nil {
		return nil, err
	}
	return s.DeviceGet(deviceID)
}

// SoftDelete marks the device deleted; it is restored automatically by any
// subsequent message from it.
func (s Storage) SoftDelete(deviceID string, now time.Time) error {
	ts := now.Unix()
	return s.stmtDeviceSetDeleted.run(deviceID, &ts)
}

func (s Storage) Restore(deviceID string) error {
	return s.stmtDeviceSetDeleted.run(deviceID, nil)
}

// Pin forces the device to target a specific firmware version; an empty
// version removes the pin.
func (s Storage) Pin(deviceID, version string) error {
	return s.stmtDeviceSetPin.run(deviceID, version)
}

func (s Storage) Rename(deviceID, displayName string) error {
	return s.stmtDeviceSetName.run(deviceID, displayName)
}

func (s Storage) SetDisplaySnapshot(deviceID, blob string, now time.Time) error {
	stmt := s.stmtDeviceSetBlob["display_snapshot"]
	return stmt.run(deviceID, blob, now.Unix())
}

func (s Storage) SetLastEvent(deviceID, blob string, now time.Time) error {
	stmt := s.stmtDeviceSetBlob["last_event"]
	return stmt.run(deviceID, blob, now.Unix())
}

// RecordHeartbeat appends a liveness sample and prunes records older than
// the retention window for this device.
func (s Storage) RecordHeartbeat(deviceID string, now time.Time, rssi, uptime, freeHeap int64) error {
	ts := now.Unix()
	if err := s.stmtHeartbeatInsert.run(deviceID, ts, rssi, uptime, freeHeap); err != nil {
		return err
	}
	return s.stmtHeartbeatPrune.run(deviceID, now.Add(-heartbeatRetention).Unix())
}

// RecentSamples returns the device's samples at or after the given time,
// ascending by time.
func (s Storage) RecentSamples(deviceID string, since time.Time) ([]Sample, error) {
	var samples []Sample
	if err := s.stmtHeartbeatRecent.run(deviceID, since.Unix(), &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

type stmtDeviceGet storage.DbStmt

func (s *stmtDeviceGet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceGet", `
		SELECT
			product, board_type, firmware_version, display_name, pinned_version,
			supported_commands, last_config, rssi, uptime, free_heap, ssid, ip_address,
			display_snapshot, last_event, first_seen, last_seen, last_info_at, deleted_at
		FROM devices
		WHERE device_id = ?`,
	)
	return
}

func (s *stmtDeviceGet) run(deviceID string, d *Device) error {
	var commands string
	if err := s.Stmt.QueryRow(deviceID).Scan(
		&d.Product, &d.BoardType, &d.FirmwareVersion, &d.DisplayName, &d.PinnedVersion,
		&commands, &d.LastConfig, &d.Rssi, &d.Uptime, &d.FreeHeap, &d.Ssid, &d.IPAddress,
		&d.DisplaySnapshot, &d.LastEvent, &d.FirstSeen, &d.LastSeen, &d.LastInfoAt, &d.DeletedAt,
	); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(commands), &d.SupportedCommands); err != nil {
		return fmt.Errorf("failed to parse supported commands for device %s: %w", deviceID, err)
	}
	return nil
}

type stmtDeviceList storage.DbStmt

func (s *stmtDeviceList) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceList", `
		SELECT
			device_id, product, board_type, firmware_version, display_name, pinned_version,
			supported_commands, last_config, rssi, uptime, free_heap, ssid, ip_address,
			display_snapshot, last_event, first_seen, last_seen, last_info_at, deleted_at
		FROM devices
		WHERE deleted_at IS NULL
		ORDER BY last_seen DESC LIMIT ? OFFSET ?`,
	)
	return
}

func (s *stmtDeviceList) run(limit, offset int, dl *[]Device) error {
	rows, err := s.Stmt.Query(limit, offset)
	if err != nil {
		return err
	}
	defer rows.Close() // nolint:errcheck
	for rows.Next() {
		var (
			d        Device
			commands string
		)
		if err = rows.Scan(
			&d.DeviceID, &d.Product, &d.BoardType, &d.FirmwareVersion, &d.DisplayName, &d.PinnedVersion,
			&commands, &d.LastConfig, &d.Rssi, &d.Uptime, &d.FreeHeap, &d.Ssid, &d.IPAddress,
			&d.DisplaySnapshot, &d.LastEvent, &d.FirstSeen, &d.LastSeen, &d.LastInfoAt, &d.DeletedAt,
		); err != nil {
			return err
		}
		if err = json.Unmarshal([]byte(commands), &d.SupportedCommands); err != nil {
			return fmt.Errorf("failed to parse supported commands for device %s: %w", d.DeviceID, err)
		}
		*dl = append(*dl, d)
	}
	return rows.Err()
}

type stmtDeviceCreate storage.DbStmt

func (s *stmtDeviceCreate) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceCreate", `
		INSERT INTO devices(device_id, product, board_type, firmware_version, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)`,
	)
	return
}

func (s *stmtDeviceCreate) run(deviceID, product, board, version string, now int64) error {
	_, err := s.Stmt.Exec(deviceID, product, board, version, now, now)
	return err
}

type stmtDeviceUpdateTelemetry storage.DbStmt

func (s *stmtDeviceUpdateTelemetry) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceUpdateTelemetry", `
		UPDATE devices
		SET rssi=?, uptime=?, free_heap=?, ssid=?, ip_address=?, last_seen=?, deleted_at=NULL
		WHERE device_id = ?`,
	)
	return
}

func (s *stmtDeviceUpdateTelemetry) run(deviceID string, lastSeen int64, t Telemetry) error {
	_, err := s.Stmt.Exec(t.Rssi, t.Uptime, t.FreeHeap, t.Ssid, t.IPAddress, lastSeen, deviceID)
	return err
}

type stmtDeviceUpdateStatic storage.DbStmt

func (s *stmtDeviceUpdateStatic) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceUpdateStatic", `
		UPDATE devices
		SET product=?, board_type=?, firmware_version=?
		WHERE device_id = ?`,
	)
	return
}

func (s *stmtDeviceUpdateStatic) run(deviceID, product, board, version string) error {
	_, err := s.Stmt.Exec(product, board, version, deviceID)
	return err
}

type stmtDeviceUpdateInfo storage.DbStmt

func (s *stmtDeviceUpdateInfo) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceUpdateInfo", `
		UPDATE devices
		SET product=?, board_type=?, firmware_version=?, last_config=?, supported_commands=?,
			last_info_at=?, last_seen=?, deleted_at=NULL
		WHERE device_id = ?`,
	)
	return
}

func (s *stmtDeviceUpdateInfo) run(deviceID, product, board, version, config, commands string, now int64) error {
	_, err := s.Stmt.Exec(product, board, version, config, commands, now, now, deviceID)
	return err
}

type stmtDeviceSetDeleted storage.DbStmt

func (s *stmtDeviceSetDeleted) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceSetDeleted", `
		UPDATE devices SET deleted_at=? WHERE device_id = ?`,
	)
	return
}

func (s *stmtDeviceSetDeleted) run(deviceID string, deletedAt *int64) error {
	_, err := s.Stmt.Exec(deletedAt, deviceID)
	return err
}

type stmtDeviceSetPin storage.DbStmt

func (s *stmtDeviceSetPin) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceSetPin", `
		UPDATE devices SET pinned_version=? WHERE device_id = ?`,
	)
	return
}

func (s *stmtDeviceSetPin) run(deviceID, version string) error {
	_, err := s.Stmt.Exec(version, deviceID)
	return err
}

type stmtDeviceSetName storage.DbStmt

func (s *stmtDeviceSetName) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceSetName", `
		UPDATE devices SET display_name=? WHERE device_id = ?`,
	)
	return
}

func (s *stmtDeviceSetName) run(deviceID, displayName string) error {
	_, err := s.Stmt.Exec(displayName, deviceID)
	return err
}

type stmtDeviceSetBlob storage.DbStmt

func (s *stmtDeviceSetBlob) Init(db storage.DbHandle, column string) (err error) {
	s.Stmt, err = db.Prepare("fleetDeviceSet_"+column, fmt.Sprintf(`
		UPDATE devices SET %s=?, last_seen=?, deleted_at=NULL WHERE device_id = ?`, column),
	)
	return
}

func (s stmtDeviceSetBlob) run(deviceID, blob string, lastSeen int64) error {
	_, err := s.Stmt.Exec(blob, lastSeen, deviceID)
	return err
}

type stmtHeartbeatInsert storage.DbStmt

func (s *stmtHeartbeatInsert) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetHeartbeatInsert", `
		INSERT INTO heartbeats(device_id, ts, rssi, uptime, free_heap)
		VALUES (?, ?, ?, ?, ?)`,
	)
	return
}

func (s *stmtHeartbeatInsert) run(deviceID string, ts, rssi, uptime, freeHeap int64) error {
	_, err := s.Stmt.Exec(deviceID, ts, rssi, uptime, freeHeap)
	return err
}

type stmtHeartbeatPrune storage.DbStmt

func (s *stmtHeartbeatPrune) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetHeartbeatPrune", `
		DELETE FROM heartbeats WHERE device_id = ? AND ts < ?`,
	)
	return
}

func (s *stmtHeartbeatPrune) run(deviceID string, before int64) error {
	_, err := s.Stmt.Exec(deviceID, before)
	return err
}

type stmtHeartbeatRecent storage.DbStmt

func (s *stmtHeartbeatRecent) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("fleetHeartbeatRecent", `
		SELECT ts, rssi, uptime, free_heap
		FROM heartbeats
		WHERE device_id = ? AND ts >= ?
		ORDER BY ts ASC`,
	)
	return
}

func (s *stmtHeartbeatRecent) run(deviceID string, since int64, samples *[]Sample) error {
	rows, err := s.Stmt.Query(deviceID, since)
	if err != nil {
		return err
	}
	defer rows.Close() // nolint:errcheck
	for rows.Next() {
		var smp Sample
		if err = rows.Scan(&smp.Ts, &smp.Rssi, &smp.Uptime, &smp.FreeHeap); err != nil {
			return err
		}
		*samples = append(*samples, smp)
	}
	return rows.Err()
}
