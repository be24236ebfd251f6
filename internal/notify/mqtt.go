// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttWriteTimeout   = 2 * time.Second
	mqttQueueSize      = 16
)

// MQTTOptions configures the result publisher.
type MQTTOptions struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string // empty generates "anomaly-detector-<uuid>"
	Topic    string
	QoS      byte
	Retained bool
	Logger   *slog.Logger
}

// MQTTSink publishes each payload to a topic without waiting for the
// broker. Send only enqueues; a background publisher hands payloads to the
// client. When the queue is full the oldest payload is dropped. Publish
// outcomes are only logged.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
	retain bool
	log    *slog.Logger

	queue chan []byte
	done  chan struct{}
	wg    sync.WaitGroup

	failed  atomic.Uint64
	dropped atomic.Uint64
}

// ClientID returns id, or prefix plus a random uuid when id is empty.
func ClientID(id, prefix string) string {
	if id != "" {
		return id
	}
	return prefix + "-" + uuid.NewString()
}

// NewMQTTSink connects to the broker. The client reconnects on its own
// after the initial connection succeeds.
func NewMQTTSink(opts MQTTOptions) (*MQTTSink, error) {
	if opts.Topic == "" {
		return nil, fmt.Errorf("MQTT sink: empty topic")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("MQTT sink: invalid QoS %d", opts.QoS)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("sink", "mqtt", "topic", opts.Topic)

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(ClientID(opts.ClientID, "anomaly-detector")).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetWriteTimeout(mqttWriteTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTT connection lost", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("MQTT connected", "broker", opts.Broker)
		})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("MQTT sink: connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT sink: connect to %s: %w", opts.Broker, err)
	}

	return newMQTTSink(client, opts.Topic, opts.QoS, opts.Retained, log), nil
}

func newMQTTSink(client mqtt.Client, topic string, qos byte, retain bool, log *slog.Logger) *MQTTSink {
	s := &MQTTSink{
		client: client,
		topic:  topic,
		qos:    qos,
		retain: retain,
		log:    log,
		queue:  make(chan []byte, mqttQueueSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.publishLoop()
	return s
}

// Send implements Sink. It never blocks on the client.
func (s *MQTTSink) Send(payload []byte) {
	for {
		select {
		case s.queue <- payload:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *MQTTSink) publishLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case p := <-s.queue:
			token := s.client.Publish(s.topic, s.qos, s.retain, p)
			go func() {
				<-token.Done()
				if err := token.Error(); err != nil {
					s.failed.Add(1)
					s.log.Warn("MQTT publish failed", "error", err)
				}
			}()
		}
	}
}

// Failed is the number of publishes the client reported as failed.
func (s *MQTTSink) Failed() uint64 { return s.failed.Load() }

// Dropped is the number of payloads discarded because the publisher fell
// behind.
func (s *MQTTSink) Dropped() uint64 { return s.dropped.Load() }

// Close stops the publisher and disconnects, allowing in-flight publishes a
// short grace period.
func (s *MQTTSink) Close() error {
	close(s.done)
	s.client.Disconnect(250)
	s.wg.Wait()
	return nil
}
