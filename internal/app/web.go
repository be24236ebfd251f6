// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/anomaly_detector/internal/config"
	"github.com/relabs-tech/anomaly_detector/internal/notify"
)

const indexPage = `<!doctype html>
<html><head><title>Anomaly detector</title></head>
<body><h1>Anomaly detector</h1><pre id="out">waiting...</pre>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (e) => { document.getElementById("out").textContent = e.data; };
</script></body></html>
`

type atomicTime struct{ p atomic.Pointer[time.Time] }

func (a *atomicTime) Store(t time.Time) { a.p.Store(&t) }

func (a *atomicTime) Load() time.Time {
	if t := a.p.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// ResultView is served by /api/result.
type ResultView struct {
	Payload    string    `json:"payload"`
	Summary    string    `json:"summary"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewWebHandler serves the relay endpoints on top of hub:
//
//	/            minimal live page
//	/ws          WebSocket stream of raw payloads
//	/api/result  latest payload as JSON
func NewWebHandler(hub *notify.Hub, lastAt func() time.Time) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/api/result", func(w http.ResponseWriter, r *http.Request) {
		last := hub.Last()
		if last == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		view := ResultView{Payload: string(last), Summary: DescribePayload(last), ReceivedAt: lastAt()}
		if err := json.NewEncoder(w).Encode(view); err != nil {
			log.Printf("json encode error: %v", err)
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexPage))
	})
	return mux
}

// RunWeb relays results from MQTT to browsers.
func RunWeb() error {
	cfg := config.Get()
	logger := NewLogger(cfg)

	hub := notify.NewHub(logger)
	var lastAt atomicTime

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(notify.ClientID(cfg.MQTTClientIDWeb, "anomaly-web")).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicResult, cfg.MQTTQoS, func(_ mqtt.Client, msg mqtt.Message) {
		lastAt.Store(time.Now())
		hub.Send(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicResult)

	port := cfg.WebServerPort
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)
	logger.Info("web server listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewWebHandler(hub, lastAt.Load),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return srv.ListenAndServe()
}
