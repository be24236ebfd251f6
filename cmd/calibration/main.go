// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Guided 6-point accelerometer calibration.
//
// Place the device with each axis pointing up in turn (+X, -X, +Y, -Y, +Z,
// -Z); the tool averages a static capture per pose and writes the offset
// and per-half-axis scale as JSON. Point CALIBRATION_FILE at the output to
// have the detector apply it.
//
// The sensor is read without calibration or axis mapping, in the device
// frame.
package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/anomaly_detector/internal/app"
	"github.com/relabs-tech/anomaly_detector/internal/config"
)

func main() {
	configPath := flag.String("config", "./anomaly_config.txt", "path to configuration file")
	outPath := flag.String("out", "", "output file (default CALIBRATION_FILE, or a timestamped name)")
	samples := flag.Int("samples", 300, "samples captured per pose")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunCalibration(*outPath, *samples); err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
}
