// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/anomaly_detector/internal/config"
	"github.com/relabs-tech/anomaly_detector/internal/imu"
	"github.com/relabs-tech/anomaly_detector/internal/sensors"
)

const (
	// Stillness thresholds on the mean per-axis standard deviation, in g.
	stillStdGood = 0.01
	stillStdBad  = 0.05

	// Minimum half-separation of opposing poses, in g.
	minGravitySeparation = 0.1

	confFloor = 0.05
)

// Poses are captured in this order; each names the device axis pointing up.
var Poses = [6]string{"+X", "-X", "+Y", "-Y", "+Z", "-Z"}

// PoseStats summarizes one static pose capture.
type PoseStats struct {
	Pose       string     `json:"pose"`
	Samples    int        `json:"samples"`
	Faults     int        `json:"faults"`
	Mean       imu.Sample `json:"mean"`
	StdDev     imu.Sample `json:"stddev"`
	Confidence float64    `json:"confidence"`
}

// CalibrationReport is what the calibration tool writes: the calibration
// itself plus the evidence it was computed from.
type CalibrationReport struct {
	sensors.Calibration
	Confidence float64     `json:"confidence"`
	PoseStats  []PoseStats `json:"pose_stats"`
}

// CaptureOptions controls one pose capture.
type CaptureOptions struct {
	Samples  int
	Interval time.Duration
	// MaxFaults aborts the capture after this many failed reads.
	MaxFaults int
}

// CapturePose reads opts.Samples samples from src and summarizes them.
// Sensor faults are skipped until MaxFaults is exceeded.
func CapturePose(src sensors.Source, pose string, opts CaptureOptions) (PoseStats, error) {
	if opts.Samples < 2 {
		return PoseStats{}, fmt.Errorf("calibration: need at least 2 samples per pose, got %d", opts.Samples)
	}
	var xs, ys, zs []float64
	faults := 0
	for len(xs) < opts.Samples {
		s, err := src.Read()
		if err != nil {
			if !errors.Is(err, sensors.ErrSensorFault) {
				return PoseStats{}, err
			}
			faults++
			if faults > opts.MaxFaults {
				return PoseStats{}, fmt.Errorf("calibration: pose %s: too many sensor faults: %w", pose, err)
			}
		} else {
			xs = append(xs, s.X)
			ys = append(ys, s.Y)
			zs = append(zs, s.Z)
		}
		if opts.Interval > 0 {
			time.Sleep(opts.Interval)
		}
	}

	mx, sx := stat.MeanStdDev(xs, nil)
	my, sy := stat.MeanStdDev(ys, nil)
	mz, sz := stat.MeanStdDev(zs, nil)
	std := imu.Sample{X: sx, Y: sy, Z: sz}
	return PoseStats{
		Pose:       pose,
		Samples:    len(xs),
		Faults:     faults,
		Mean:       imu.Sample{X: mx, Y: my, Z: mz},
		StdDev:     std,
		Confidence: stillnessConfidence(std),
	}, nil
}

// SolveAccel6Point computes offset and per-half-axis scale from the six
// static poses, given in Poses order. For each axis the pose with that
// axis up reads +1 g and the opposite pose reads -1 g after correction.
func SolveAccel6Point(poses [6]PoseStats) (CalibrationReport, error) {
	var rep CalibrationReport
	rep.SchemaVersion = 1
	rep.CalibrationAt = time.Now().UTC().Format(time.RFC3339)
	rep.PoseStats = poses[:]

	for axis := range imu.Axes {
		plus := poses[2*axis].Mean.Axis(axis)
		minus := poses[2*axis+1].Mean.Axis(axis)
		offset := (plus + minus) / 2
		if (plus-minus)/2 < minGravitySeparation {
			return CalibrationReport{}, fmt.Errorf("calibration: axis %d: insufficient gravity separation (+%.3f / %.3f g); check the poses",
				axis, plus, minus)
		}
		setAxis(&rep.AccelOffset, axis, offset)
		setAxis(&rep.AccelScaleHi, axis, plus-offset)
		setAxis(&rep.AccelScaleLo, axis, minus-offset)
	}

	poseConf := 0.0
	for _, p := range poses {
		poseConf += p.Confidence
	}
	poseConf /= float64(len(poses))

	g := []float64{
		rep.AccelScaleHi.X - rep.AccelScaleLo.X,
		rep.AccelScaleHi.Y - rep.AccelScaleLo.Y,
		rep.AccelScaleHi.Z - rep.AccelScaleLo.Z,
	}
	rep.Confidence = clamp01(0.65*poseConf + 0.35*gravityConsistency(g))
	if rep.Confidence < confFloor {
		rep.Confidence = confFloor
	}
	return rep, nil
}

func setAxis(s *imu.Sample, axis int, v float64) {
	switch axis {
	case 0:
		s.X = v
	case 1:
		s.Y = v
	default:
		s.Z = v
	}
}

func stillnessConfidence(std imu.Sample) float64 {
	s := (std.X + std.Y + std.Z) / 3
	switch {
	case s <= stillStdGood:
		return 1.0
	case s >= stillStdBad:
		return confFloor
	default:
		t := (s - stillStdGood) / (stillStdBad - stillStdGood)
		return clamp01(1.0 - 0.95*t)
	}
}

// gravityConsistency maps the coefficient of variation of the per-axis
// gravity spans onto [0,1].
func gravityConsistency(spans []float64) float64 {
	m, sd := stat.PopMeanStdDev(spans, nil)
	if m <= 0 {
		return confFloor
	}
	return clamp01(1.0 - (sd/m)/0.5)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Calibrate walks the user through the six poses on in/out and returns the
// solved report.
func Calibrate(in io.Reader, out io.Writer, src sensors.Source, opts CaptureOptions) (CalibrationReport, error) {
	r := bufio.NewReader(in)
	var poses [6]PoseStats
	for i, p := range Poses {
		fmt.Fprintf(out, "Pose %s UP: place the device so its %s axis points upward and keep it still.\n", p, p)
		fmt.Fprint(out, "Press ENTER to start capture...")
		if _, err := r.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return CalibrationReport{}, err
		}
		ps, err := CapturePose(src, p, opts)
		if err != nil {
			return CalibrationReport{}, err
		}
		fmt.Fprintf(out, "\n  Pose %s: mean=(%.3f, %.3f, %.3f) std=(%.4f, %.4f, %.4f) conf=%.2f\n",
			p, ps.Mean.X, ps.Mean.Y, ps.Mean.Z, ps.StdDev.X, ps.StdDev.Y, ps.StdDev.Z, ps.Confidence)
		poses[i] = ps
	}
	rep, err := SolveAccel6Point(poses)
	if err != nil {
		return CalibrationReport{}, err
	}
	fmt.Fprintf(out, "Offset (g):   X=%.4f Y=%.4f Z=%.4f\n", rep.AccelOffset.X, rep.AccelOffset.Y, rep.AccelOffset.Z)
	fmt.Fprintf(out, "Scale hi (g): X=%.4f Y=%.4f Z=%.4f\n", rep.AccelScaleHi.X, rep.AccelScaleHi.Y, rep.AccelScaleHi.Z)
	fmt.Fprintf(out, "Scale lo (g): X=%.4f Y=%.4f Z=%.4f\n", rep.AccelScaleLo.X, rep.AccelScaleLo.Y, rep.AccelScaleLo.Z)
	fmt.Fprintf(out, "Confidence: %.2f\n", rep.Confidence)
	return rep, nil
}

// WriteCalibration stores rep where sensors.LoadCalibration can read it.
func WriteCalibration(path string, rep CalibrationReport) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

// RunCalibration opens the configured hardware sensor without any
// correction applied, runs the guided capture on stdin/stdout and writes
// the result to outPath (CALIBRATION_FILE when empty).
func RunCalibration(outPath string, samplesPerPose int) error {
	cfg := config.Get()
	logger := NewLogger(cfg)

	if cfg.SensorSource != config.SourceMPU9250 && cfg.SensorSource != config.SourceSerial {
		return fmt.Errorf("calibration needs a hardware sensor, SENSOR_SOURCE is %s", cfg.SensorSource)
	}
	if outPath == "" {
		outPath = cfg.CalibrationFile
	}
	if outPath == "" {
		outPath = fmt.Sprintf("accel_calibration_%s.json", time.Now().Format("2006-01-02T15-04-05"))
	}

	src, err := openHardwareSource(cfg, logger, sensors.Transform{})
	if err != nil {
		return err
	}
	if c, ok := src.(sensors.Closer); ok {
		defer c.Close()
	}

	fmt.Println("=== Accelerometer 6-point calibration ===")
	rep, err := Calibrate(os.Stdin, os.Stdout, src, CaptureOptions{
		Samples:   samplesPerPose,
		Interval:  time.Duration(cfg.SampleInterval) * time.Millisecond,
		MaxFaults: samplesPerPose,
	})
	if err != nil {
		return err
	}
	if err := WriteCalibration(outPath, rep); err != nil {
		return err
	}
	slog.Info("calibration written", "file", outPath, "confidence", rep.Confidence)
	return nil
}
