// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/anomaly_detector/internal/buffer"
	"github.com/relabs-tech/anomaly_detector/internal/cascade"
	"github.com/relabs-tech/anomaly_detector/internal/notify"
	"github.com/relabs-tech/anomaly_detector/internal/sensors"
)

// PipelineOptions wires the sampling and inference tasks together.
type PipelineOptions struct {
	Source   sensors.Source
	Buffer   *buffer.Double
	Cascade  *cascade.Cascade
	Notifier notify.Notifier

	SampleInterval    time.Duration
	InferenceInterval time.Duration
	// StatsInterval is the period of the stats log line; 0 disables it.
	StatsInterval time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Pipeline runs a fixed-period sampling task that fills the double buffer
// and a slower inference task that swaps it, evaluates the cascade and
// notifies the result.
type Pipeline struct {
	opts PipelineOptions
	log  *slog.Logger

	seq atomic.Uint64

	samples      atomic.Uint64
	sensorFaults atomic.Uint64
	overruns     atomic.Uint64
	notReady     atomic.Uint64
	windows      atomic.Uint64
	skipped      atomic.Uint64
	notified     atomic.Uint64
}

// PipelineStats is a snapshot of the task counters.
type PipelineStats struct {
	Samples      uint64 // samples written to the buffer
	SensorFaults uint64
	Overruns     uint64 // samples dropped because the active slot was full
	NotReady     uint64 // inference ticks with no complete window
	Windows      uint64 // windows evaluated
	Skipped      uint64 // windows dropped on an inference fault
	Notified     uint64
	Buffer       buffer.Stats
}

// NewPipeline validates opts.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("pipeline: no sample source")
	case opts.Buffer == nil:
		return nil, errors.New("pipeline: no buffer")
	case opts.Cascade == nil:
		return nil, errors.New("pipeline: no cascade")
	}
	if err := opts.Cascade.CheckWindow(opts.Buffer.WindowLen()); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{opts: opts, log: opts.Logger}, nil
}

// SampleOnce reads one sample and writes it to the active slot. A sensor
// fault or an overrun leaves the buffer untouched and is returned to the
// caller; neither is fatal.
func (p *Pipeline) SampleOnce() error {
	s, err := p.opts.Source.Read()
	if err != nil {
		p.sensorFaults.Add(1)
		p.log.Debug("sample skipped", "task", "sampling", "error", err)
		return err
	}
	if err := p.opts.Buffer.Write(s); err != nil {
		p.overruns.Add(1)
		p.log.Debug("sample dropped", "task", "sampling", "error", err)
		return err
	}
	p.samples.Add(1)
	return nil
}

// InferOnce swaps the buffer if a window is complete, evaluates it and
// notifies the result. It reports whether a message was sent. An
// inference fault skips the window without notifying.
func (p *Pipeline) InferOnce(ctx context.Context) (cascade.Result, bool, error) {
	w, ok := p.opts.Buffer.TrySwap()
	if !ok {
		p.notReady.Add(1)
		return cascade.Result{}, false, nil
	}
	p.windows.Add(1)

	res, err := p.opts.Cascade.Evaluate(ctx, w)
	if err != nil {
		p.skipped.Add(1)
		p.log.Warn("window skipped", "task", "inference", "error", err)
		return cascade.Result{}, false, err
	}

	m := notify.Message{
		Seq:    p.seq.Add(1),
		Time:   p.opts.Now(),
		Result: res,
		Window: w.Clone(),
	}
	p.opts.Notifier.Notify(m)
	p.notified.Add(1)
	p.log.Debug("window evaluated", "task", "inference", "seq", m.Seq, "code", res.Code,
		"confidence", res.Confidence, "stages", res.Stages)
	return res, true, nil
}

// Run starts both tasks and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.opts.SampleInterval <= 0 || p.opts.InferenceInterval <= 0 {
		return errors.New("pipeline: task intervals must be positive")
	}
	if fill := p.opts.SampleInterval * time.Duration(p.opts.Buffer.WindowLen()); p.opts.InferenceInterval <= fill {
		return fmt.Errorf("pipeline: inference interval %v must be longer than the %v a window takes to fill",
			p.opts.InferenceInterval, fill)
	}
	p.log.Info("pipeline started",
		"sample_interval", p.opts.SampleInterval,
		"inference_interval", p.opts.InferenceInterval,
		"window", p.opts.Buffer.WindowLen(),
		"stages", p.opts.Cascade.Stages())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		every(ctx, p.opts.SampleInterval, func() { _ = p.SampleOnce() })
		return nil
	})
	g.Go(func() error {
		every(ctx, p.opts.InferenceInterval, func() { _, _, _ = p.InferOnce(ctx) })
		return nil
	})
	if p.opts.StatsInterval > 0 {
		g.Go(func() error {
			every(ctx, p.opts.StatsInterval, p.logStats)
			return nil
		})
	}
	err := g.Wait()
	p.logStats()
	p.log.Info("pipeline stopped")
	return err
}

func every(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stats returns the current counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Samples:      p.samples.Load(),
		SensorFaults: p.sensorFaults.Load(),
		Overruns:     p.overruns.Load(),
		NotReady:     p.notReady.Load(),
		Windows:      p.windows.Load(),
		Skipped:      p.skipped.Load(),
		Notified:     p.notified.Load(),
		Buffer:       p.opts.Buffer.Stats(),
	}
}

func (p *Pipeline) logStats() {
	s := p.Stats()
	p.log.Info("pipeline stats",
		"samples", s.Samples,
		"sensor_faults", s.SensorFaults,
		"overruns", s.Overruns,
		"not_ready", s.NotReady,
		"windows", s.Windows,
		"skipped", s.Skipped,
		"notified", s.Notified,
		"pending", s.Buffer.Pending)
}
