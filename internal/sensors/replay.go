// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

// ReplaySource plays back a recorded x,y,z CSV file, looping at the end.
// Samples are assumed to be already calibrated.
type ReplaySource struct {
	mu      sync.Mutex
	samples []imu.Sample
	next    int
}

// LoadReplay reads a CSV recording. A leading header row is skipped.
func LoadReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	defer f.Close()
	src, err := ParseReplay(f)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	return src, nil
}

// ParseReplay reads CSV rows of three numeric columns from r.
func ParseReplay(r io.Reader) (*ReplaySource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var samples []imu.Sample
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		s, err := ParseRecord(strings.Join(rec, ","))
		if err != nil {
			if row == 1 && isHeader(rec) {
				continue
			}
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return nil, errors.New("no samples")
	}
	return &ReplaySource{samples: samples}, nil
}

func isHeader(rec []string) bool {
	for _, f := range rec {
		if _, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err == nil {
			return false
		}
	}
	return true
}

// Len is the number of recorded samples.
func (r *ReplaySource) Len() int { return len(r.samples) }

// Read implements Source.
func (r *ReplaySource) Read() (imu.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.samples[r.next]
	r.next = (r.next + 1) % len(r.samples)
	return s, nil
}
