// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

type DbHandle struct {
	db *sql.DB
}

func NewDb(dbfile string) (*DbHandle, error) {
	var newDb bool
	if _, err := os.Stat(dbfile); err != nil {
		newDb = errors.Is(err, os.ErrNotExist)
	}
	db, err := sql.Open("sqlite3", dbfile)
	if err != nil {
		return nil, err
	}
	// The engine event loop, the timeout sweep and API request handlers all
	// share this handle; sqlite serializes conflicting writes to a row.
	db.SetMaxOpenConns(1)
	if newDb {
		if err := createTables(db); err != nil {
			return nil, err
		}
	}
	return &DbHandle{db: db}, nil
}

func (d DbHandle) Close() error {
	return d.db.Close()
}

func (d DbHandle) Prepare(name, query string) (stmt *sql.Stmt, err error) {
	if stmt, err = d.db.Prepare(query); err != nil {
		err = fmt.Errorf("unable to prepare '%s' statement: %w", name, err)
	}
	return
}

func (d DbHandle) InitStmt(stmt ...DbStmtInit) (err error) {
	for _, s := range stmt {
		if err = s.Init(d); err != nil {
			break
		}
	}
	return
}

func createTables(db *sql.DB) error {
	sqlStmt := `
		CREATE TABLE devices (
			device_id          VARCHAR(64) NOT NULL PRIMARY KEY,
			product            VARCHAR(80) DEFAULT "",
			board_type         VARCHAR(80) DEFAULT "",
			firmware_version   VARCHAR(48) DEFAULT "",
			display_name       VARCHAR(128) DEFAULT "",
			pinned_version     VARCHAR(48) DEFAULT "",
			supported_commands TEXT DEFAULT "[]",
			last_config        TEXT DEFAULT "",
			rssi               INT DEFAULT 0,
			uptime             INT DEFAULT 0,
			free_heap          INT DEFAULT 0,
			ssid               VARCHAR(80) DEFAULT "",
			ip_address         VARCHAR(48) DEFAULT "",
			display_snapshot   TEXT DEFAULT "",
			last_event         TEXT DEFAULT "",
			first_seen         INT DEFAULT 0,
			last_seen          INT DEFAULT 0,
			last_info_at       INT DEFAULT 0,
			deleted_at         INT
		) WITHOUT ROWID;

		CREATE TABLE heartbeats (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id VARCHAR(64) NOT NULL,
			ts        INT NOT NULL,
			rssi      INT DEFAULT 0,
			uptime    INT DEFAULT 0,
			free_heap INT DEFAULT 0
		);
		CREATE INDEX heartbeats_device_ts ON heartbeats(device_id, ts);

		CREATE TABLE ota_sessions (
			session_id        VARCHAR(64) NOT NULL PRIMARY KEY,
			device_id         VARCHAR(64),
			product           VARCHAR(80) DEFAULT "",
			platform          VARCHAR(80) DEFAULT "",
			old_version       VARCHAR(48) DEFAULT "",
			new_version       VARCHAR(48) DEFAULT "",
			status            VARCHAR(16) NOT NULL,
			update_type       VARCHAR(20) DEFAULT "network_update",
			download_progress INT DEFAULT 0,
			error_message     TEXT DEFAULT "",
			started_at        INT NOT NULL,
			last_progress_at  INT,
			completed_at      INT
		) WITHOUT ROWID;
		CREATE INDEX ota_sessions_device ON ota_sessions(device_id, started_at);
		CREATE INDEX ota_sessions_status ON ota_sessions(status);
	`
	if _, err := db.Exec(sqlStmt); err != nil {
		return fmt.Errorf("unable to create fleet db: %w", err)
	}
	return nil
}

type DbStmt struct {
	Stmt *sql.Stmt
}

type DbStmtInit interface {
	Init(db DbHandle) error
}
