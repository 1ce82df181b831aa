// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetforge/fleet-engine/broker"
	"github.com/fleetforge/fleet-engine/catalog"
	"github.com/fleetforge/fleet-engine/engine"
	"github.com/fleetforge/fleet-engine/server/api"
	"github.com/fleetforge/fleet-engine/storage"
	"github.com/fleetforge/fleet-engine/storage/fleet"
	"github.com/fleetforge/fleet-engine/storage/ota"
)

type ServeCmd struct {
	startedCb func(apiAddress string)

	ApiPort uint16 `default:"8080" help:"Port for the REST API"`

	Env       string `default:"dev" help:"Environment scope to serve: dev or prod"`
	TopicRoot string `default:"fleet" help:"Root prefix of the broker topic tree"`

	BrokerUrl      string `arg:"env:BROKER_URL" help:"Broker address, e.g. tcp://localhost:1883; empty runs the API without broker ingest"`
	BrokerUsername string `arg:"env:BROKER_USERNAME"`
	BrokerPassword string `arg:"env:BROKER_PASSWORD"`
	BrokerClientId string `default:"fleet-engine" help:"Fixed client identity; the persistent broker session is keyed on it"`
	BrokerTls      bool   `help:"Connect to the broker over TLS"`
}

func (c *ServeCmd) Run(args CommonArgs) error {
	env, err := engine.ParseEnvironment(c.Env)
	if err != nil {
		return err
	}
	fs, err := storage.NewFs(args.DataDir)
	if err != nil {
		return fmt.Errorf("failed to load filesystem: %w", err)
	}
	db, err := storage.NewDb(fs.Config.DbFile())
	if err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	fleetStorage, err := fleet.NewStorage(db)
	if err != nil {
		return fmt.Errorf("failed to load fleet storage: %w", err)
	}
	otaStorage, err := ota.NewStorage(db)
	if err != nil {
		return fmt.Errorf("failed to load ota storage: %w", err)
	}
	cat := catalog.New(fs)

	topics := engine.TopicScheme{Root: c.TopicRoot}
	bk := broker.New(args.ctx, broker.Config{
		URL:      c.BrokerUrl,
		Username: c.BrokerUsername,
		Password: c.BrokerPassword,
		ClientID: c.BrokerClientId,
		UseTLS:   c.BrokerTls,
	}, topics, env)
	eng := engine.New(args.ctx, env, topics, fleetStorage, otaStorage, cat, bk)

	if c.BrokerUrl != "" {
		if err = bk.Start(eng.HandleMessage); err != nil {
			return err
		}
	}

	daemons := engine.NewDaemons(args.ctx, eng)
	daemons.Start()

	apiServer := api.NewServer(args.ctx, eng, cat, fs, c.ApiPort)
	quitErr := make(chan error, 1)
	apiServer.Start(quitErr)

	if c.startedCb != nil {
		// Testing code, see serve_test.go
		time.Sleep(time.Millisecond * 2)
		c.startedCb(apiServer.GetAddress())
	}

	// setup channel to gracefully terminate server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err = <-quitErr:
	case <-quit:
		break
	}

	apiServer.Shutdown(time.Minute)
	daemons.Shutdown()
	bk.Disconnect()

	return err
}
