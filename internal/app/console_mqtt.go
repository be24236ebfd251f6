// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/anomaly_detector/internal/config"
	"github.com/relabs-tech/anomaly_detector/internal/notify"
)

// RunConsoleMQTT prints every result published by the detector.
func RunConsoleMQTT() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(notify.ClientID(cfg.MQTTClientIDConsole, "anomaly-console"))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicResult, cfg.MQTTQoS, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Println(DescribePayload(msg.Payload()))
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicResult)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

// DescribePayload renders a result payload in any of the wire formats as
// one console line.
func DescribePayload(p []byte) string {
	body := bytes.TrimSpace(p)

	if bytes.HasPrefix(body, []byte("{")) {
		var m notify.JSONMessage
		if err := json.Unmarshal(bytes.TrimSuffix(body, []byte(";")), &m); err != nil {
			return fmt.Sprintf("[????]  unparseable json: %v", err)
		}
		line := fmt.Sprintf("[RESULT] seq=%d code=%d conf=%.2f score=%.2f", m.Seq, m.Code, m.Confidence, m.Score)
		if m.Summary != nil {
			line += fmt.Sprintf("  peak=%.2fg std=%.3fg", m.Summary.Peak, m.Summary.StdDev)
		}
		return line
	}

	records := bytes.Split(bytes.TrimSuffix(body, []byte(";")), []byte(";"))
	if len(records) == 1 {
		if code, err := strconv.Atoi(string(records[0])); err == nil {
			if code == 0 {
				return "[RESULT] code=0 (no anomaly)"
			}
			return fmt.Sprintf("[RESULT] code=%d ANOMALY", code)
		}
	}
	return fmt.Sprintf("[SAMPLES] %d records, first=%s", len(records), records[0])
}
