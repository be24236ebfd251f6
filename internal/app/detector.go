// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/anomaly_detector/internal/buffer"
	"github.com/relabs-tech/anomaly_detector/internal/cascade"
	"github.com/relabs-tech/anomaly_detector/internal/config"
	"github.com/relabs-tech/anomaly_detector/internal/inference"
	"github.com/relabs-tech/anomaly_detector/internal/notify"
	"github.com/relabs-tech/anomaly_detector/internal/quant"
	"github.com/relabs-tech/anomaly_detector/internal/sensors"
)

// RunDetector samples the configured sensor, runs the cascade over every
// completed window and publishes the results until SIGINT/SIGTERM.
func RunDetector() error {
	cfg := config.Get()
	logger := NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := BuildDetector(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Println("detector: running, Ctrl+C to stop")
	return p.Run(ctx)
}

// BuildDetector assembles the pipeline described by cfg. cleanup releases
// every device and connection that was opened, and must be called even
// when the pipeline never runs.
func BuildDetector(cfg *config.Config, logger *slog.Logger) (p *Pipeline, cleanup func(), err error) {
	var closers []func() error
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("shutdown", "error", err)
			}
		}
	}
	defer func() {
		if err != nil {
			cleanup()
			cleanup = func() {}
		}
	}()

	casc, err := BuildCascade(cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}

	buf, err := buffer.New(cfg.WindowLength)
	if err != nil {
		return nil, cleanup, err
	}

	src, err := OpenSource(cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}
	if c, ok := src.(sensors.Closer); ok {
		closers = append(closers, c.Close)
	}

	notifier, sinkClosers, err := BuildNotifier(cfg, logger)
	closers = append(closers, sinkClosers...)
	if err != nil {
		return nil, cleanup, err
	}

	p, err = NewPipeline(PipelineOptions{
		Source:            src,
		Buffer:            buf,
		Cascade:           casc,
		Notifier:          notifier,
		SampleInterval:    time.Duration(cfg.SampleInterval) * time.Millisecond,
		InferenceInterval: time.Duration(cfg.InferenceInterval) * time.Millisecond,
		StatsInterval:     time.Duration(cfg.StatsLogInterval) * time.Millisecond,
		Logger:            logger,
	})
	if err != nil {
		return nil, cleanup, err
	}
	return p, cleanup, nil
}

// BuildCascade loads the configured models against a shared arena and
// chains them: an optional binary gate, then the classifier.
func BuildCascade(cfg *config.Config, logger *slog.Logger) (*cascade.Cascade, error) {
	arena := inference.NewArena(cfg.ModelArenaSize)
	var stages []cascade.Stage

	if cfg.GateModel != "" {
		gate, err := inference.LoadDense(cfg.GateModel, arena)
		if err != nil {
			return nil, err
		}
		stages = append(stages, cascade.Stage{
			Name:   "gate",
			Engine: gate,
			Input:  quant.Params{Scale: cfg.GateInputScale, ZeroPoint: cfg.GateInputZeroPoint},
			Rule:   cascade.Gate{Threshold: cfg.GateThreshold, Scale: cfg.GateOutputScale},
		})
	}

	classifier, err := inference.LoadDense(cfg.ClassifierModel, arena)
	if err != nil {
		return nil, err
	}
	if cfg.ClassifierOutputs > 0 && classifier.OutputLen() != cfg.ClassifierOutputs {
		return nil, fmt.Errorf("classifier %s has %d outputs, CLASSIFIER_OUTPUTS is %d",
			classifier.Name(), classifier.OutputLen(), cfg.ClassifierOutputs)
	}
	stages = append(stages, cascade.Stage{
		Name:   "classifier",
		Engine: classifier,
		Input:  quant.Params{Scale: cfg.ClassifierInputScale, ZeroPoint: cfg.ClassifierInputZeroPoint},
		Rule:   cascade.ArgMax{},
	})

	c, err := cascade.New(logger, stages...)
	if err != nil {
		return nil, err
	}
	if err := c.CheckWindow(cfg.WindowLength); err != nil {
		return nil, err
	}
	logger.Info("models loaded", "stages", c.Stages(), "arena_used", arena.Used(), "arena_size", cfg.ModelArenaSize)
	return c, nil
}

// LoadTransform builds the calibration and axis mapping for hardware
// sources.
func LoadTransform(cfg *config.Config) (sensors.Transform, error) {
	var t sensors.Transform
	if cfg.CalibrationFile != "" {
		cal, err := sensors.LoadCalibration(cfg.CalibrationFile)
		if err != nil {
			return t, err
		}
		t.Cal = cal
	}
	axes, err := sensors.ParseAxisMap(cfg.AxisMap)
	if err != nil {
		return t, err
	}
	t.Axes = axes
	return t, nil
}

// OpenSource opens the configured SampleSource.
func OpenSource(cfg *config.Config, logger *slog.Logger) (sensors.Source, error) {
	switch cfg.SensorSource {
	case config.SourceMock:
		logger.Info("using mock sample source")
		return sensors.NewMockSource(), nil
	case config.SourceReplay:
		src, err := sensors.LoadReplay(cfg.ReplayFile)
		if err != nil {
			return nil, err
		}
		logger.Info("replaying recording", "file", cfg.ReplayFile, "samples", src.Len())
		return src, nil
	}

	t, err := LoadTransform(cfg)
	if err != nil {
		return nil, err
	}
	return openHardwareSource(cfg, logger, t)
}

func openHardwareSource(cfg *config.Config, logger *slog.Logger, t sensors.Transform) (sensors.Source, error) {
	switch cfg.SensorSource {
	case config.SourceMPU9250:
		src, err := sensors.NewMPU9250Source(sensors.MPU9250Options{
			SPIDevice:  cfg.IMUSPIDevice,
			CSPin:      cfg.IMUCSPin,
			AccelRange: cfg.IMUAccelRange,
			Transform:  t,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SourceSerial:
		src, err := sensors.NewSerialSource(sensors.SerialOptions{
			Port:      cfg.SerialPort,
			BaudRate:  uint(cfg.SerialBaudRate),
			Transform: t,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
}

// BuildNotifier opens every sink listed in NOTIFY_SINKS. The returned
// closers are valid even when err is non-nil.
func BuildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, []func() error, error) {
	enc, err := notify.EncoderByName(cfg.PayloadFormat)
	if err != nil {
		return nil, nil, err
	}

	var (
		out     notify.Multi
		closers []func() error
	)
	for _, name := range cfg.NotifySinks {
		switch name {
		case config.SinkMQTT:
			s, err := notify.NewMQTTSink(notify.MQTTOptions{
				Broker:   cfg.MQTTBroker,
				ClientID: cfg.MQTTClientIDDetector,
				Topic:    cfg.TopicResult,
				QoS:      cfg.MQTTQoS,
				Retained: true,
				Logger:   logger,
			})
			if err != nil {
				return nil, closers, err
			}
			closers = append(closers, s.Close)
			out = append(out, notify.Encoded{Enc: enc, Sink: s, Log: logger})
		case config.SinkLog:
			out = append(out, notify.Encoded{Enc: enc, Sink: notify.LogSink{Log: logger}, Log: logger})
		case config.SinkDisplay:
			d, err := notify.NewDisplaySink(cfg.DisplayI2CBus, logger)
			if err != nil {
				return nil, closers, err
			}
			closers = append(closers, d.Close)
			out = append(out, d)
		default:
			return nil, closers, errors.New("unknown notify sink " + name)
		}
	}
	if len(out) == 0 {
		logger.Warn("no notify sinks configured, results are discarded")
	}
	return out, closers, nil
}
