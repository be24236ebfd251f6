// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
# detector
MQTT_BROKER=tcp://localhost:1883
CLASSIFIER_MODEL=models/classifier.yaml
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(minimal))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "anomaly/result", cfg.TopicResult)
	assert.Equal(t, SourceMPU9250, cfg.SensorSource)
	assert.Equal(t, 10, cfg.SampleInterval)
	assert.Equal(t, 1010, cfg.InferenceInterval)
	assert.Equal(t, 100, cfg.WindowLength)
	assert.Equal(t, 0.5, cfg.GateThreshold)
	assert.Equal(t, 1.0, cfg.GateOutputScale)
	assert.Equal(t, 30000, cfg.ModelArenaSize)
	assert.Equal(t, []string{SinkMQTT}, cfg.NotifySinks)
	assert.Equal(t, "code", cfg.PayloadFormat)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestParseFullFile(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
MQTT_BROKER = tcp://broker:1883
MQTT_QOS=1
TOPIC_RESULT=lab/anomaly
SENSOR_SOURCE=serial
SERIAL_PORT=/dev/ttyUSB0
SERIAL_BAUD_RATE=230400
AXIS_MAP=-x,-z,-y
SAMPLE_INTERVAL=10
WINDOW_LENGTH=10
INFERENCE_INTERVAL=110
GATE_MODEL=gate.yaml
GATE_THRESHOLD=0.5
GATE_OUTPUT_SCALE=2
GATE_INPUT_SCALE=0.1
GATE_INPUT_ZERO_POINT=-3
CLASSIFIER_MODEL=cls.yaml
CLASSIFIER_OUTPUTS=3
NOTIFY_SINKS=mqtt, LOG
PAYLOAD_FORMAT=samples
WEB_SERVER_PORT=8080
LOG_LEVEL=debug
`))
	require.NoError(t, err)
	assert.Equal(t, byte(1), cfg.MQTTQoS)
	assert.Equal(t, "lab/anomaly", cfg.TopicResult)
	assert.Equal(t, SourceSerial, cfg.SensorSource)
	assert.Equal(t, 230400, cfg.SerialBaudRate)
	assert.Equal(t, "-x,-z,-y", cfg.AxisMap)
	assert.Equal(t, 2.0, cfg.GateOutputScale)
	assert.Equal(t, 0.1, cfg.GateInputScale)
	assert.Equal(t, -3, cfg.GateInputZeroPoint)
	assert.Equal(t, 3, cfg.ClassifierOutputs)
	assert.Equal(t, []string{SinkMQTT, SinkLog}, cfg.NotifySinks)
	assert.True(t, cfg.HasSink(SinkLog))
	assert.False(t, cfg.HasSink(SinkDisplay))
	assert.Equal(t, 8080, cfg.WebServerPort)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{"unknown key", "FOO=1", "unknown config key"},
		{"no equals", "JUSTAKEY", "invalid config line"},
		{"bad int", "WINDOW_LENGTH=ten", "invalid WINDOW_LENGTH"},
		{"range", "IMU_ACCEL_RANGE=4", "IMU_ACCEL_RANGE must be 0-3"},
		{"qos", "MQTT_QOS=3", "MQTT_QOS must be 0-2"},
		{"nan", "GATE_THRESHOLD=NaN", "must be finite"},
		{"zero point", "CLASSIFIER_INPUT_ZERO_POINT=128", "must be -128-127"},
		{"source", "SENSOR_SOURCE=camera", "SENSOR_SOURCE must be one of"},
		{"serial port", "SENSOR_SOURCE=serial", "SERIAL_PORT is required"},
		{"replay file", "SENSOR_SOURCE=replay", "REPLAY_FILE is required"},
		{"window overrun", "INFERENCE_INTERVAL=999", "INFERENCE_INTERVAL (999 ms) must be greater than"},
		{"window exactly fills", "INFERENCE_INTERVAL=1000", "INFERENCE_INTERVAL (1000 ms) must be greater than"},
		{"gate scale", "GATE_OUTPUT_SCALE=0", "GATE_OUTPUT_SCALE must be > 0"},
		{"sink", "NOTIFY_SINKS=mqtt,pager", "unknown sink"},
		{"format", "PAYLOAD_FORMAT=xml", "PAYLOAD_FORMAT must be one of"},
		{"log level", "LOG_LEVEL=chatty", "invalid LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(minimal + tt.extra + "\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseRequiredKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("MQTT_BROKER=tcp://x:1883\n"))
	assert.ErrorContains(t, err, "CLASSIFIER_MODEL is required")

	_, err = Parse(strings.NewReader("CLASSIFIER_MODEL=c.yaml\n"))
	assert.ErrorContains(t, err, "MQTT_BROKER is required")

	_, err = Parse(strings.NewReader("CLASSIFIER_MODEL=c.yaml\nNOTIFY_SINKS=log\n"))
	assert.NoError(t, err, "broker is only needed by the mqtt sink")
}

func TestInferenceIntervalMustExceedWindow(t *testing.T) {
	_, err := Parse(strings.NewReader(minimal + "SAMPLE_INTERVAL=10\nWINDOW_LENGTH=100\nINFERENCE_INTERVAL=1000\n"))
	assert.ErrorContains(t, err, "must be greater than SAMPLE_INTERVAL*WINDOW_LENGTH (1000 ms)")

	cfg, err := Parse(strings.NewReader(minimal + "SAMPLE_INTERVAL=10\nWINDOW_LENGTH=100\nINFERENCE_INTERVAL=1001\n"))
	require.NoError(t, err)
	assert.Equal(t, 1001, cfg.InferenceInterval)
}

func TestLoadAndGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomaly_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	require.NoError(t, InitGlobal(path))
	require.NotNil(t, Get())
	assert.Equal(t, "models/classifier.yaml", Get().ClassifierModel)
}
