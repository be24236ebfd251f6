// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/anomaly_detector/internal/buffer"
	"github.com/relabs-tech/anomaly_detector/internal/cascade"
	"github.com/relabs-tech/anomaly_detector/internal/config"
	"github.com/relabs-tech/anomaly_detector/internal/imu"
	"github.com/relabs-tech/anomaly_detector/internal/inference"
	"github.com/relabs-tech/anomaly_detector/internal/inference/inferencetest"
	"github.com/relabs-tech/anomaly_detector/internal/notify"
	"github.com/relabs-tech/anomaly_detector/internal/quant"
	"github.com/relabs-tech/anomaly_detector/internal/sensors"
)

type constSource struct {
	mu     sync.Mutex
	sample imu.Sample
	fail   bool
	reads  int
}

func (s *constSource) Read() (imu.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.fail {
		return imu.Sample{}, sensors.ErrSensorFault
	}
	return s.sample, nil
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Notify(m notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

var (
	unitParams = quant.Params{Scale: 0.1, ZeroPoint: 0}
	outGrid    = quant.Params{Scale: 0.00390625, ZeroPoint: -128}
)

type fixture struct {
	src  *constSource
	gate *inferencetest.Scripted
	clf  *inferencetest.Scripted
	rec  *recorder
	p    *Pipeline
}

func newFixture(t *testing.T, w int, gateSteps ...inferencetest.Step) *fixture {
	t.Helper()
	f := &fixture{
		src:  &constSource{sample: imu.Sample{X: 1}},
		gate: inferencetest.New(w*3, unitParams, 1, outGrid, gateSteps...),
		clf:  inferencetest.New(w*3, unitParams, 3, outGrid, inferencetest.Step{Output: []float64{0.1, 0.7, 0.2}}),
		rec:  &recorder{},
	}
	c, err := cascade.New(nil,
		cascade.Stage{Name: "gate", Engine: f.gate, Rule: cascade.Gate{Threshold: 0.5}},
		cascade.Stage{Name: "classifier", Engine: f.clf, Rule: cascade.ArgMax{}},
	)
	require.NoError(t, err)
	buf, err := buffer.New(w)
	require.NoError(t, err)

	f.p, err = NewPipeline(PipelineOptions{
		Source:   f.src,
		Buffer:   buf,
		Cascade:  c,
		Notifier: f.rec,
		Now:      func() time.Time { return time.Unix(100, 0) },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) fill(t *testing.T, n int) {
	t.Helper()
	for range n {
		require.NoError(t, f.p.SampleOnce())
	}
}

func TestPipelineEncodesWindowAndNotifiesOnce(t *testing.T) {
	const w = 10
	f := newFixture(t, w, inferencetest.Step{Output: []float64{0.9}})

	f.fill(t, w)
	res, sent, err := f.p.InferOnce(context.Background())
	require.NoError(t, err)
	require.True(t, sent)
	assert.Equal(t, cascade.Code(2), res.Code)

	want := make([]int8, 0, w*3)
	for range w {
		want = append(want, 10, 0, 0)
	}
	inputs := f.gate.Inputs()
	require.Len(t, inputs, 1)
	if diff := cmp.Diff(want, inputs[0]); diff != "" {
		t.Fatalf("encoded window (-want +got):\n%s", diff)
	}
	assert.Equal(t, want, f.clf.Inputs()[0])

	require.Equal(t, 1, f.rec.count())
	m := f.rec.msgs[0]
	assert.Equal(t, uint64(1), m.Seq)
	assert.Equal(t, time.Unix(100, 0), m.Time)
	assert.Len(t, m.Window, w)

	// Nothing new until the next window completes.
	_, sent, err = f.p.InferOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1, f.rec.count())

	f.fill(t, w)
	_, sent, err = f.p.InferOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 2, f.rec.count())
	assert.Equal(t, uint64(2), f.rec.msgs[1].Seq)

	st := f.p.Stats()
	assert.Equal(t, uint64(2*w), st.Samples)
	assert.Equal(t, uint64(2), st.Windows)
	assert.Equal(t, uint64(2), st.Notified)
	assert.Equal(t, uint64(1), st.NotReady)
}

func TestPipelineClampsLargeSamples(t *testing.T) {
	const w = 2
	f := newFixture(t, w, inferencetest.Step{Output: []float64{0.9}})
	f.src.sample = imu.Sample{X: 100, Y: -100, Z: 1.26}

	f.fill(t, w)
	_, _, err := f.p.InferOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int8{127, -128, 13, 127, -128, 13}, f.gate.Inputs()[0])
}

func TestPipelineSkipsWindowOnInferenceFault(t *testing.T) {
	const w = 10
	f := newFixture(t, w, inferencetest.Step{Err: &inference.StatusError{Model: "gate", Status: inference.StatusGenericFailure}})
	f.gate.Push(inferencetest.Step{Output: []float64{0.1}})

	f.fill(t, w)
	_, sent, err := f.p.InferOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cascade.ErrSkipped)
	assert.Equal(t, inference.StatusGenericFailure, inference.StatusOf(err))
	assert.False(t, sent)
	assert.Zero(t, f.rec.count(), "faulted window must not notify")
	assert.Zero(t, f.clf.Calls())

	// The next window is evaluated normally.
	f.fill(t, w)
	res, sent, err := f.p.InferOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, cascade.NoAnomaly, res.Code)
	assert.Equal(t, 1, f.rec.count())
	assert.Equal(t, uint64(1), f.p.Stats().Skipped)
}

func TestPipelineMissingOutputSkips(t *testing.T) {
	f := newFixture(t, 1, inferencetest.Step{NoOutput: true})
	f.fill(t, 1)
	_, sent, err := f.p.InferOnce(context.Background())
	assert.ErrorIs(t, err, inference.ErrNoOutput)
	assert.False(t, sent)
	assert.Zero(t, f.rec.count())
}

func TestPipelineSensorFaultLeavesBufferUntouched(t *testing.T) {
	f := newFixture(t, 3, inferencetest.Step{Output: []float64{0.9}})
	f.fill(t, 2)

	f.src.fail = true
	err := f.p.SampleOnce()
	assert.ErrorIs(t, err, sensors.ErrSensorFault)
	assert.Equal(t, 2, f.p.Stats().Buffer.Pending)
	assert.Equal(t, uint64(1), f.p.Stats().SensorFaults)

	f.src.fail = false
	f.fill(t, 1)
	_, sent, err := f.p.InferOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestPipelineOverrunDropsSample(t *testing.T) {
	f := newFixture(t, 2, inferencetest.Step{Output: []float64{0.9}})
	f.fill(t, 2)

	err := f.p.SampleOnce()
	assert.ErrorIs(t, err, buffer.ErrSlotFull)
	st := f.p.Stats()
	assert.Equal(t, uint64(1), st.Overruns)
	assert.Equal(t, uint64(2), st.Samples)

	_, sent, err := f.p.InferOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, f.rec.msgs[0].Window, 2)
}

func TestPipelineSamplesPayload(t *testing.T) {
	f := newFixture(t, 10, inferencetest.Step{Output: []float64{0.9}})
	var got []string
	f.p.opts.Notifier = notify.Encoded{Enc: notify.SamplesEncoder{}, Sink: notify.SinkFunc(func(p []byte) {
		got = append(got, string(p))
	})}

	f.fill(t, 10)
	_, _, err := f.p.InferOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, strings.Repeat("1.000000,0.000000,0.000000;", 10), got[0])
}

func TestNewPipelineValidates(t *testing.T) {
	buf, err := buffer.New(4)
	require.NoError(t, err)
	eng := inferencetest.New(9, unitParams, 3, outGrid)
	c, err := cascade.New(nil, cascade.Stage{Engine: eng, Rule: cascade.ArgMax{}})
	require.NoError(t, err)

	_, err = NewPipeline(PipelineOptions{Buffer: buf, Cascade: c})
	assert.Error(t, err)
	_, err = NewPipeline(PipelineOptions{Source: &constSource{}, Cascade: c})
	assert.Error(t, err)
	_, err = NewPipeline(PipelineOptions{Source: &constSource{}, Buffer: buf})
	assert.Error(t, err)

	_, err = NewPipeline(PipelineOptions{Source: &constSource{}, Buffer: buf, Cascade: c})
	assert.ErrorContains(t, err, "expects 9 input values")
}

func TestPipelineRun(t *testing.T) {
	f := newFixture(t, 5, inferencetest.Step{Output: []float64{0.9}})
	f.p.opts.SampleInterval = time.Millisecond
	f.p.opts.InferenceInterval = 10 * time.Millisecond
	f.p.opts.StatsInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	require.Eventually(t, func() bool { return f.rec.count() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	for i, m := range f.rec.msgs {
		assert.Equal(t, uint64(i+1), m.Seq)
		assert.Len(t, m.Window, 5)
	}
}

func TestPipelineRunRequiresInferenceSlowerThanWindowFill(t *testing.T) {
	f := newFixture(t, 5, inferencetest.Step{Output: []float64{0.9}})
	f.p.opts.SampleInterval = 2 * time.Millisecond
	f.p.opts.InferenceInterval = 10 * time.Millisecond

	err := f.p.Run(context.Background())
	assert.ErrorContains(t, err, "must be longer than the 10ms a window takes to fill")
	assert.Zero(t, f.rec.count())
}

func TestPipelineRunRejectsZeroIntervals(t *testing.T) {
	f := newFixture(t, 1, inferencetest.Step{Output: []float64{0.9}})
	assert.Error(t, f.p.Run(context.Background()))
}

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(strings.NewReader(`
SENSOR_SOURCE=replay
REPLAY_FILE=testdata/replay_w2.csv
WINDOW_LENGTH=2
SAMPLE_INTERVAL=10
INFERENCE_INTERVAL=30
GATE_MODEL=testdata/gate_w2.yaml
CLASSIFIER_MODEL=testdata/classifier_w2.yaml
CLASSIFIER_OUTPUTS=3
NOTIFY_SINKS=log
` + extra))
	require.NoError(t, err)
	return cfg
}

func TestBuildDetectorEndToEnd(t *testing.T) {
	var logs bytes.Buffer
	cfg := testConfig(t, "STATS_LOG_INTERVAL=0\n")
	logger := newLogger(&logs, cfg)

	p, cleanup, err := BuildDetector(cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	var codes []cascade.Code
	for range 3 {
		for range 2 {
			require.NoError(t, p.SampleOnce())
		}
		res, sent, err := p.InferOnce(context.Background())
		require.NoError(t, err)
		require.True(t, sent)
		codes = append(codes, res.Code)
	}
	assert.Equal(t, []cascade.Code{2, cascade.NoAnomaly, 3}, codes)

	out := logs.String()
	for _, want := range []string{"payload=2;", "payload=0;", "payload=3;"} {
		assert.Contains(t, out, want)
	}
}

func TestBuildCascadeErrors(t *testing.T) {
	logger := newLogger(&bytes.Buffer{}, testConfig(t, ""))

	_, err := BuildCascade(testConfig(t, "CLASSIFIER_OUTPUTS=4\n"), logger)
	assert.ErrorContains(t, err, "CLASSIFIER_OUTPUTS is 4")

	_, err = BuildCascade(testConfig(t, "MODEL_ARENA_SIZE=20\n"), logger)
	require.Error(t, err)
	assert.Equal(t, inference.StatusAllocationFailed, inference.StatusOf(err))

	cfg := testConfig(t, "")
	cfg.WindowLength = 3
	_, err = BuildCascade(cfg, logger)
	assert.ErrorContains(t, err, "expects 6 input values")

	cfg = testConfig(t, "")
	cfg.GateModel = ""
	c, err := BuildCascade(cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stages())
}
