// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/anomaly_detector/internal/cascade"
	"github.com/relabs-tech/anomaly_detector/internal/imu"
	"github.com/relabs-tech/anomaly_detector/internal/notify"
)

func TestDescribePayload(t *testing.T) {
	jsonPayload, err := notify.JSONEncoder{}.Encode(notify.Message{
		Seq:    4,
		Result: cascade.Result{Code: 3, Confidence: 0.81, Scores: []float64{0.1, 0.09, 0.81}},
		Window: imu.Window{{Z: 1}, {Z: 1.5}},
	})
	require.NoError(t, err)

	tests := []struct {
		payload string
		want    string
	}{
		{"0;", "[RESULT] code=0 (no anomaly)"},
		{"2;", "[RESULT] code=2 ANOMALY"},
		{" 1; ", "[RESULT] code=1 ANOMALY"},
		{"0.100000,0.000000,1.000000;0.200000,0.000000,1.000000;", "[SAMPLES] 2 records, first=0.100000,0.000000,1.000000"},
		{string(jsonPayload), "[RESULT] seq=4 code=3 conf=0.81 score=0.00  peak=1.50g"},
		{"{broken", "[????]  unparseable json"},
	}
	for _, tt := range tests {
		assert.Contains(t, DescribePayload([]byte(tt.payload)), tt.want, tt.payload)
	}
}

func TestWebHandler(t *testing.T) {
	hub := notify.NewHub(nil)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(NewWebHandler(hub, func() time.Time { return at }))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/result")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	hub.Send([]byte("2;"))

	resp, err = http.Get(srv.URL + "/api/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view ResultView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "2;", view.Payload)
	assert.Equal(t, "[RESULT] code=2 ANOMALY", view.Summary)
	assert.True(t, at.Equal(view.ReceivedAt))

	page, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(page.Body)
	page.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "/ws"))

	missing, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAtomicTime(t *testing.T) {
	var a atomicTime
	assert.True(t, a.Load().IsZero())
	now := time.Now()
	a.Store(now)
	assert.True(t, now.Equal(a.Load()))
}
