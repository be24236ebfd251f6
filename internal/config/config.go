// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Sensor sources.
const (
	SourceMPU9250 = "mpu9250"
	SourceSerial  = "serial"
	SourceReplay  = "replay"
	SourceMock    = "mock"
)

// Notification sinks.
const (
	SinkMQTT    = "mqtt"
	SinkDisplay = "display"
	SinkLog     = "log"
)

var (
	sensorSources  = []string{SourceMPU9250, SourceSerial, SourceReplay, SourceMock}
	notifySinks    = []string{SinkMQTT, SinkDisplay, SinkLog}
	payloadFormats = []string{"code", "samples", "json"}
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDDetector string // empty generates one
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTQoS              byte

	// Topics
	TopicResult string

	// Sampling
	SensorSource    string
	IMUSPIDevice    string
	IMUCSPin        string
	IMUAccelRange   byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	AxisMap         string
	CalibrationFile string
	SerialPort      string
	SerialBaudRate  int
	ReplayFile      string

	// Timing, all in milliseconds
	SampleInterval    int
	InferenceInterval int
	StatsLogInterval  int

	// WindowLength is the number of samples per inference window.
	WindowLength int

	// Cascade
	GateModel                string // empty runs the classifier alone
	GateThreshold            float64
	GateOutputScale          float64
	GateInputScale           float64 // 0 keeps the model file's input params
	GateInputZeroPoint       int
	ClassifierModel          string
	ClassifierOutputs        int // 0 accepts whatever the model declares
	ClassifierInputScale     float64
	ClassifierInputZeroPoint int
	ModelArenaSize           int // bytes

	// Notification
	NotifySinks   []string
	PayloadFormat string
	DisplayI2CBus string

	// Web Server
	WebServerPort int

	LogLevel string
}

// Defaults returns a Config with every optional key at its default value.
func Defaults() *Config {
	return &Config{
		TopicResult:       "anomaly/result",
		SensorSource:      SourceMPU9250,
		IMUSPIDevice:      "/dev/spidev0.0",
		IMUCSPin:          "GPIO8",
		SerialBaudRate:    115200,
		SampleInterval:    10,
		InferenceInterval: 1010,
		StatsLogInterval:  10000,
		WindowLength:      100,
		GateThreshold:     0.5,
		GateOutputScale:   1,
		ModelArenaSize:    30000,
		NotifySinks:       []string{SinkMQTT},
		PayloadFormat:     "code",
		LogLevel:          "info",
	}
}

// Package-level singleton: InitGlobal sets it once, Get reads it.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines from r on top of Defaults and validates the
// result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be finite, got %q", key, value)
	}
	return v, nil
}

func parseList(value string) []string {
	var out []string
	for _, f := range strings.Split(value, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, strings.ToLower(f))
		}
	}
	return out
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	var n int
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_DETECTOR":
		c.MQTTClientIDDetector = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_QOS":
		n, err = parseInt(key, value, 0, 2)
		c.MQTTQoS = byte(n)

	// Topics
	case "TOPIC_RESULT":
		c.TopicResult = value

	// Sampling
	case "SENSOR_SOURCE":
		c.SensorSource = strings.ToLower(value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		n, err = parseInt(key, value, 0, 3)
		c.IMUAccelRange = byte(n)
	case "AXIS_MAP":
		c.AxisMap = value
	case "CALIBRATION_FILE":
		c.CalibrationFile = value
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value, 1, 4000000)
	case "REPLAY_FILE":
		c.ReplayFile = value

	// Timing
	case "SAMPLE_INTERVAL":
		c.SampleInterval, err = parseInt(key, value, 1, math.MaxInt32)
	case "INFERENCE_INTERVAL":
		c.InferenceInterval, err = parseInt(key, value, 1, math.MaxInt32)
	case "STATS_LOG_INTERVAL":
		c.StatsLogInterval, err = parseInt(key, value, 0, math.MaxInt32)
	case "WINDOW_LENGTH":
		c.WindowLength, err = parseInt(key, value, 1, 100000)

	// Cascade
	case "GATE_MODEL":
		c.GateModel = value
	case "GATE_THRESHOLD":
		c.GateThreshold, err = parseFloat(key, value)
	case "GATE_OUTPUT_SCALE":
		c.GateOutputScale, err = parseFloat(key, value)
	case "GATE_INPUT_SCALE":
		c.GateInputScale, err = parseFloat(key, value)
	case "GATE_INPUT_ZERO_POINT":
		c.GateInputZeroPoint, err = parseInt(key, value, math.MinInt8, math.MaxInt8)
	case "CLASSIFIER_MODEL":
		c.ClassifierModel = value
	case "CLASSIFIER_OUTPUTS":
		c.ClassifierOutputs, err = parseInt(key, value, 0, 1000)
	case "CLASSIFIER_INPUT_SCALE":
		c.ClassifierInputScale, err = parseFloat(key, value)
	case "CLASSIFIER_INPUT_ZERO_POINT":
		c.ClassifierInputZeroPoint, err = parseInt(key, value, math.MinInt8, math.MaxInt8)
	case "MODEL_ARENA_SIZE":
		c.ModelArenaSize, err = parseInt(key, value, 1, math.MaxInt32)

	// Notification
	case "NOTIFY_SINKS":
		c.NotifySinks = parseList(value)
	case "PAYLOAD_FORMAT":
		c.PayloadFormat = strings.ToLower(value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 0, 65535)

	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks required fields and cross-field constraints.
func (c *Config) validate() error {
	if !slices.Contains(sensorSources, c.SensorSource) {
		return fmt.Errorf("SENSOR_SOURCE must be one of %s, got %q", strings.Join(sensorSources, "|"), c.SensorSource)
	}
	switch c.SensorSource {
	case SourceMPU9250:
		if c.IMUSPIDevice == "" || c.IMUCSPin == "" {
			return fmt.Errorf("IMU_SPI_DEVICE and IMU_CS_PIN are required for SENSOR_SOURCE=%s", c.SensorSource)
		}
	case SourceSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SENSOR_SOURCE=%s", c.SensorSource)
		}
	case SourceReplay:
		if c.ReplayFile == "" {
			return fmt.Errorf("REPLAY_FILE is required for SENSOR_SOURCE=%s", c.SensorSource)
		}
	}

	// Both tasks run on independent tickers. With equal periods the two
	// ticks race on the same boundary and inference sees a partial window.
	if c.InferenceInterval <= c.SampleInterval*c.WindowLength {
		return fmt.Errorf("INFERENCE_INTERVAL (%d ms) must be greater than SAMPLE_INTERVAL*WINDOW_LENGTH (%d ms)",
			c.InferenceInterval, c.SampleInterval*c.WindowLength)
	}

	if c.ClassifierModel == "" {
		return fmt.Errorf("CLASSIFIER_MODEL is required")
	}
	if c.GateOutputScale <= 0 {
		return fmt.Errorf("GATE_OUTPUT_SCALE must be > 0, got %g", c.GateOutputScale)
	}
	if c.GateInputScale < 0 || c.ClassifierInputScale < 0 {
		return fmt.Errorf("input scale overrides must be > 0")
	}

	for _, s := range c.NotifySinks {
		if !slices.Contains(notifySinks, s) {
			return fmt.Errorf("NOTIFY_SINKS: unknown sink %q (want %s)", s, strings.Join(notifySinks, ","))
		}
	}
	if c.HasSink(SinkMQTT) && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required when NOTIFY_SINKS includes mqtt")
	}
	if c.TopicResult == "" {
		return fmt.Errorf("TOPIC_RESULT is required")
	}
	if !slices.Contains(payloadFormats, c.PayloadFormat) {
		return fmt.Errorf("PAYLOAD_FORMAT must be one of %s, got %q", strings.Join(payloadFormats, "|"), c.PayloadFormat)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// HasSink reports whether name is listed in NOTIFY_SINKS.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.NotifySinks, name)
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// InitGlobal initializes the global configuration from file. Only the
// first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
