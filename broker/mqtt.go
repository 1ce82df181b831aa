// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package broker owns the MQTT connection: environment-scoped
// subscriptions on the way in, the Publisher capability on the way out.
package broker

import (
	"crypto/tls"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fleetforge/fleet-engine/context"
	"github.com/fleetforge/fleet-engine/engine"
)

type Config struct {
	URL      string
	Username string
	Password string
	// ClientID must stay fixed across restarts: the persistent broker
	// session is keyed on it, and queued QoS 1 messages survive only as
	// long as the identity does.
	ClientID string
	UseTLS   bool
}

type Client struct {
	context context.Context
	cfg     Config
	client  mqtt.Client
	topics  engine.TopicScheme
	env     engine.Environment
}

// MessageHandler receives every inbound message on the paho router
// goroutine; delivery is serial with respect to other messages.
type MessageHandler func(topic string, payload []byte)

// New builds an unconnected client. The two-phase construction exists so
// the message consumer can hold the client as its Publisher before any
// inbound traffic starts flowing: wire everything up, then Start.
func New(ctx context.Context, cfg Config, topics engine.TopicScheme, env engine.Environment) *Client {
	log := context.CtxGetLog(ctx).With("broker", cfg.URL, "env", string(env))
	ctx = context.CtxWithLog(ctx, log)
	return &Client{context: ctx, cfg: cfg, topics: topics, env: env}
}

// Start establishes the broker connection and wires subscriptions for
// exactly one environment. On every (re)connection it first defensively
// unsubscribes the other environment's device topic patterns - a previous
// persistent session with different configuration may have left them
// behind - then subscribes this environment's full set: heartbeats at
// QoS 0, everything else at QoS 1.
func (c *Client) Start(handler MessageHandler) error {
	log := context.CtxGetLog(c.context)

	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.URL).
		SetClientID(c.cfg.ClientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetKeepAlive(60 * time.Second).
		SetConnectTimeout(30 * time.Second)
	if c.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		c.resubscribe(mc, handler)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("broker connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", c.cfg.URL, token.Error())
	}
	return nil
}

func (c *Client) resubscribe(mc mqtt.Client, handler MessageHandler) {
	log := context.CtxGetLog(c.context)

	stale := c.topics.SubscriptionFilters(otherEnv(c.env))
	filters := make([]string, 0, len(stale))
	for filter := range stale {
		filters = append(filters, filter)
	}
	if token := mc.Unsubscribe(filters...); token.Wait() && token.Error() != nil {
		// Non-fatal: the filters may simply never have been subscribed
		log.Warn("failed to purge stale subscriptions", "error", token.Error())
	}

	subs := c.topics.SubscriptionFilters(c.env)
	token := mc.SubscribeMultiple(subs, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		log.Error("failed to subscribe", "error", token.Error())
		return
	}
	log.Info("subscribed to environment topics", "filters", len(subs))
}

// Publish implements engine.Publisher. Fire-and-forget: the call never
// waits for broker acknowledgement; delivery failures surface in logs only.
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	if c.client == nil {
		return fmt.Errorf("broker client for %s not started", c.cfg.URL)
	}
	token := c.client.Publish(topic, qos, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			context.CtxGetLog(c.context).Error("publish failed", "topic", topic, "error", token.Error())
		}
	}()
	return nil
}

func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}
	// Give in-flight publishes a moment to drain
	c.client.Disconnect(250)
}

func otherEnv(env engine.Environment) engine.Environment {
	if env == engine.EnvProd {
		return engine.EnvDev
	}
	return engine.EnvProd
}
