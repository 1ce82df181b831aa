// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package ota

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fleetforge/fleet-engine/storage"
)

type (
	// Convenience aliases for importing modules
	DbHandle = storage.DbHandle

	SessionStatus = storage.SessionStatus
	UpdateType    = storage.UpdateType
)

var NewDb = storage.NewDb

const (
	SessionStarted     = storage.SessionStarted
	SessionDownloading = storage.SessionDownloading
	SessionSuccess     = storage.SessionSuccess
	SessionFailed      = storage.SessionFailed
)

// Session is one attempt to move a device from one firmware version to
// another. DeviceID is nullable: direct-flash sessions may be created
// before the device ever registers.
type Session struct {
	SessionID        string        `json:"session_id"`
	DeviceID         *string       `json:"device_id,omitempty"`
	Product          string        `json:"product"`
	Platform         string        `json:"platform"`
	OldVersion       string        `json:"old_version"`
	NewVersion       string        `json:"new_version"`
	Status           SessionStatus `json:"status"`
	UpdateType       UpdateType    `json:"update_type"`
	DownloadProgress int64         `json:"download_progress"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	StartedAt        int64         `json:"started_at"`
	LastProgressAt   *int64        `json:"last_progress_at,omitempty"`
	CompletedAt      *int64        `json:"completed_at,omitempty"`
}

// ListOpts filters the session history for the API.
type ListOpts struct {
	DeviceID string        `query:"device-id"`
	Status   SessionStatus `query:"status"`
	Limit    int           `query:"limit"`
	Offset   int           `query:"offset"`
}

type Storage struct {
	db *storage.DbHandle

	stmtSessionCreate     stmtSessionCreate
	stmtSessionGet        stmtSessionGet
	stmtSessionInFlight   stmtSessionInFlight
	stmtSessionAllActive  stmtSessionAllActive
	stmtSessionProgress   stmtSessionProgress
	stmtSessionComplete   stmtSessionComplete
	stmtSessionList       stmtSessionList
	stmtSessionListDevice stmtSessionListDevice
}

func NewStorage(db *storage.DbHandle) (*Storage, error) {
	handle := Storage{db: db}
	if err := db.InitStmt(
		&handle.stmtSessionCreate,
		&handle.stmtSessionGet,
		&handle.stmtSessionInFlight,
		&handle.stmtSessionAllActive,
		&handle.stmtSessionProgress,
		&handle.stmtSessionComplete,
		&handle.stmtSessionList,
		&handle.stmtSessionListDevice,
	); err != nil {
		return nil, err
	}
	return &handle, nil
}

func (s Storage) Create(sess Session) error {
	return s.stmtSessionCreate.run(sess)
}

func (s Storage) Get(sessionID string) (*Session, error) {
	sess := Session{SessionID: sessionID}
	if err := s.stmtSessionGet.run(sessionID, &sess); err != nil {
		if err == sql.ErrNoRows {
			err = nil
		}
		return nil, err
	}
	return &sess, nil
}

// InFlightForDevice returns every session for the device still in
// {started, downloading}, most recent first. Races can leave multiple
// in-flight sessions for one device; callers must resolve all of them.
func (s Storage) InFlightForDevice(deviceID string) ([]Session, error) {
	var sessions []Session
	if err := s.stmtSessionInFlight.run(deviceID, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// AllInFlight returns in-flight sessions across all devices for the
// timeout sweep.
func (s Storage) AllInFlight() ([]Session, error) {
	var sessions []Session
	if err := s.stmtSessionAllActive.run(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// MarkDownloading moves an in-flight session to downloading and refreshes
// its progress timestamp. A no-op on terminal sessions; returns whether the
// session actually transitioned.
func (s Storage) MarkDownloading(sessionID string, progress int64, now time.Time) (bool, error) {
	return s.stmtSessionProgress.run(sessionID, progress, now.Unix())
}

// Complete moves an in-flight session to a terminal status. A no-op on
// already-terminal sessions; returns whether the session actually
// transitioned.
func (s Storage) Complete(sessionID string, status SessionStatus, errorMessage string, now time.Time) (bool, error) {
	if status != SessionSuccess && status != SessionFailed {
		return false, fmt.Errorf("invalid terminal status %q for session %s", status, sessionID)
	}
	return s.stmtSessionComplete.run(sessionID, status, errorMessage, now.Unix())
}

// List returns session history, most recently started first.
func (s Storage) List(opts ListOpts) ([]Session, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	var sessions []Session
	var err error
	if opts.DeviceID != "" {
		err = s.stmtSessionListDevice.run(opts, &sessions)
	} else {
		err = s.stmtSessionList.run(opts, &sessions)
	}
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

const sessionColumns = `
	session_id, device_id, product, platform, old_version, new_version,
	status, update_type, download_progress, error_message,
	started_at, last_progress_at, completed_at`

func scanSession(scan func(...any) error, sess *Session) error {
	return scan(
		&sess.SessionID, &sess.DeviceID, &sess.Product, &sess.Platform,
		&sess.OldVersion, &sess.NewVersion, &sess.Status, &sess.UpdateType,
		&sess.DownloadProgress, &sess.ErrorMessage,
		&sess.StartedAt, &sess.LastProgressAt, &sess.CompletedAt,
	)
}

func scanSessions(rows *sql.Rows, sessions *[]Session) error {
	defer rows.Close() // nolint:errcheck
	for rows.Next() {
		var sess Session
		if err := scanSession(rows.Scan, &sess); err != nil {
			return err
		}
		*sessions = append(*sessions, sess)
	}
	return rows.Err()
}

type stmtSessionCreate storage.DbStmt

func (s *stmtSessionCreate) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("otaSessionCreate", `
		INSERT INTO ota_sessions(
			session_id, device_id, product, platform, old_version, new_version,
			status, update_type, download_progress, error_message, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	return
}

func (s *stmtSessionCreate) run(sess Session) error {
	_, err := s.Stmt.Exec(
		sess.SessionID, sess.DeviceID, sess.Product, sess.Platform,
		sess.OldVersion, sess.NewVersion, sess.Status, sess.UpdateType,
		sess.DownloadProgress, sess.ErrorMessage, sess.StartedAt,
	)
	return err
}

type stmtSessionGet storage.DbStmt

func (s *stmtSessionGet) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("otaSessionGet",
		`SELECT`+sessionColumns+` FROM ota_sessions WHERE session_id = ?`)
	return
}

func (s *stmtSessionGet) run(sessionID string, sess *Session) error {
	return scanSession(s.Stmt.QueryRow(sessionID).Scan, sess)
}

type stmtSessionInFlight storage.DbStmt

func (s *stmtSessionInFlight) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("otaSessionInFlight",
		`SELECT`+sessionColumns+`
		FROM ota_sessions
		WHERE device_id = ? AND status IN ('started', 'downloading')
		ORDER BY started_at DESC`)
	return
}

func (s *stmtSessionInFlight) run(deviceID string, sessions *[]Session) error {
	rows, err := s.Stmt.Query(deviceID)
	if err != nil {
		return err
	}
	return scanSessions(rows, sessions)
}

type stmtSessionAllActive storage.DbStmt

func (s *stmtSessionAllActive) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("otaSessionAllActive",
		`SELECT`+sessionColumns+`
		FROM ota_sessions
		WHERE status IN ('started', 'downloading')
		ORDER BY started_at ASC`)
	return
}

func (s *stmtSessionAllActive) run(sessions *[]Session) error {
	rows, err := s.Stmt.Query()
	if err != nil {
		return err
	}
	return scanSessions(rows, sessions)
}

type stmtSessionProgress storage.DbStmt

func (s *stmtSessionProgress) Init(db storage.DbHandle) (err error) {
	// The status guard makes the write an idempotent no-op once the
	// session is terminal.
	s.Stmt, err = db.Prepare("otaSessionProgress", `
		UPDATE ota_sessions
		SET status='downloading', download_progress=?, last_progress_at=?
		WHERE session_id = ? AND status IN ('started', 'downloading')`,
	)
	return
}

func (s *stmtSessionProgress) run(sessionID string, progress, now int64) (bool, error) {
	res, err := s.Stmt.Exec(progress, now, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type stmtSessionComplete storage.DbStmt

func (s *stmtSessionComplete) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("otaSessionComplete", `
		UPDATE ota_sessions
		SET status=?, error_message=?, completed_at=?,
			download_progress=CASE WHEN ?='success' THEN 100 ELSE download_progress END
		WHERE session_id = ? AND status IN ('started', 'downloading')`,
	)
	return
}

func (s *stmtSessionComplete) run(sessionID string, status SessionStatus, errorMessage string, now int64) (bool, error) {
	res, err := s.Stmt.Exec(status, errorMessage, now, status, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type stmtSessionList storage.DbStmt

func (s *stmtSessionList) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("otaSessionList",
		`SELECT`+sessionColumns+`
		FROM ota_sessions
		WHERE (? = '' OR status = ?)
		ORDER BY started_at DESC LIMIT ? OFFSET ?`)
	return
}

func (s *stmtSessionList) run(opts ListOpts, sessions *[]Session) error {
	status := strings.TrimSpace(string(opts.Status))
	rows, err := s.Stmt.Query(status, status, opts.Limit, opts.Offset)
	if err != nil {
		return err
	}
	return scanSessions(rows, sessions)
}

type stmtSessionListDevice storage.DbStmt

func (s *stmtSessionListDevice) Init(db storage.DbHandle) (err error) {
	s.Stmt, err = db.Prepare("otaSessionListDevice",
		`SELECT`+sessionColumns+`
		FROM ota_sessions
		WHERE device_id = ? AND (? = '' OR status = ?)
		ORDER BY started_at DESC LIMIT ? OFFSET ?`)
	return
}

func (s *stmtSessionListDevice) run(opts ListOpts, sessions *[]Session) error {
	status := strings.TrimSpace(string(opts.Status))
	rows, err := s.Stmt.Query(opts.DeviceID, status, status, opts.Limit, opts.Offset)
	if err != nil {
		return err
	}
	return scanSessions(rows, sessions)
}
