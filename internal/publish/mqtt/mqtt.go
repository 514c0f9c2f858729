// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package mqtt publishes the display state as retained MQTT message and accepts toggle commands
// on a command topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/publish"
)

const (
	qos            = 0
	connectTimeout = time.Second * 10
	publishTimeout = time.Second * 5
	quiesceMillis  = 250
)

var ErrTimeout = errors.New("mqtt operation timed out")

// Config holds the broker settings.
type Config struct {
	Broker       string
	Topic        string
	CommandTopic string
	ClientID     string
	Username     string
	Password     string
}

type Publisher struct {
	client paho.Client
	config Config
	ctrl   publish.Controller
	log    *logger.Logger
}

// New returns a Publisher for the given broker. It does not connect yet.
func New(conf Config, ctrl publish.Controller, log *logger.Logger) *Publisher {
	p := &Publisher{config: conf, ctrl: ctrl, log: log}
	opts := paho.NewClientOptions().
		AddBroker(conf.Broker).
		SetClientID(conf.ClientID).
		SetUsername(conf.Username).
		SetPassword(conf.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Error("lost connection to MQTT broker", logger.Err(err), slog.String("broker", conf.Broker))
		})
	p.client = paho.NewClient(opts)
	return p
}

// Connect connects to the broker. Connection retries continue in the background when the first
// attempt does not finish in time.
func (p *Publisher) Connect(ctx context.Context) error {
	return wait(ctx, p.client.Connect(), connectTimeout)
}

// Publish sends the payload as retained message to the display topic.
func (p *Publisher) Publish(ctx context.Context, payload publish.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode MQTT payload: %w", err)
	}
	if err = wait(ctx, p.client.Publish(p.config.Topic, qos, true, data), publishTimeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.config.Topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(quiesceMillis)
}

func (p *Publisher) onConnect(client paho.Client) {
	p.log.Debug("connected to MQTT broker", slog.String("broker", p.config.Broker))
	if p.config.CommandTopic == "" {
		return
	}
	token := client.Subscribe(p.config.CommandTopic, qos, p.handleCommand)
	go func() {
		if err := wait(context.Background(), token, connectTimeout); err != nil {
			p.log.Error("failed to subscribe to MQTT command topic", logger.Err(err),
				slog.String("topic", p.config.CommandTopic))
		}
	}()
}

func (p *Publisher) handleCommand(_ paho.Client, msg paho.Message) {
	action := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
	if !publish.Dispatch(p.ctrl, action) {
		p.log.Error("ignoring unknown MQTT command", slog.String("command", action),
			slog.String("topic", msg.Topic()))
		return
	}
	p.log.Debug("received MQTT command", slog.String("command", action))
}

func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
