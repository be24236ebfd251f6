// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package notify

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/anomaly_detector/internal/cascade"
	"github.com/relabs-tech/anomaly_detector/internal/imu"
)

const (
	displayW = 128
	displayH = 64
)

// Display is the drawing surface of a monochrome panel. *ssd1306.Dev
// satisfies it.
type Display interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// DisplaySink shows the latest result on a small OLED. Rendering happens
// on its own goroutine; if the panel is still busy with a previous frame
// only the newest pending message is kept.
type DisplaySink struct {
	dev   Display
	log   *slog.Logger
	close func() error

	pending chan Message
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewDisplaySink opens an SSD1306 on the named I2C bus ("" selects the
// first bus) and shows a splash screen.
func NewDisplaySink(busName string, log *slog.Logger) (*DisplaySink, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("display: open I2C bus %q: %w", busName, err)
	}
	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("display: init SSD1306: %w", err)
	}
	s := newDisplaySink(dev, log, closeDisplay(dev, bus))
	if err := dev.Draw(dev.Bounds(), Splash(), image.Point{}); err != nil {
		s.log.Warn("display: splash failed", "error", err)
	}
	return s, nil
}

func closeDisplay(dev *ssd1306.Dev, bus i2c.BusCloser) func() error {
	return func() error {
		if err := dev.Halt(); err != nil {
			_ = bus.Close()
			return fmt.Errorf("display: halt: %w", err)
		}
		return bus.Close()
	}
}

// NewDisplaySinkFor renders onto an already-initialized panel.
func NewDisplaySinkFor(dev Display, log *slog.Logger) *DisplaySink {
	return newDisplaySink(dev, log, nil)
}

func newDisplaySink(dev Display, log *slog.Logger, closeFn func() error) *DisplaySink {
	if log == nil {
		log = slog.Default()
	}
	s := &DisplaySink{
		dev:     dev,
		log:     log.With("sink", "display"),
		close:   closeFn,
		pending: make(chan Message, 1),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Notify implements Notifier.
func (s *DisplaySink) Notify(m Message) {
	for {
		select {
		case s.pending <- m:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

func (s *DisplaySink) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case m := <-s.pending:
			if err := s.dev.Draw(s.dev.Bounds(), Render(m), image.Point{}); err != nil {
				s.log.Warn("display: draw failed", "seq", m.Seq, "error", err)
			}
		}
	}
}

// Close stops rendering and powers the panel down.
func (s *DisplaySink) Close() error {
	close(s.done)
	s.wg.Wait()
	if s.close != nil {
		return s.close()
	}
	return nil
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

// Render draws the result screen for m.
func Render(m Message) *image1bit.VerticalLSB {
	img, drawer := newFrame()

	drawer.Dot = fixed.P(0, 13)
	if m.Result.Code == cascade.NoAnomaly {
		drawer.DrawString("No anomaly")
	} else {
		drawer.DrawString(fmt.Sprintf("ANOMALY class %d", m.Result.Code))
	}

	drawer.Dot = fixed.P(0, 26)
	if len(m.Result.Scores) > 0 {
		drawer.DrawString(fmt.Sprintf("conf: %5.2f", m.Result.Confidence))
	} else {
		drawer.DrawString(fmt.Sprintf("gate: %5.2f", m.Result.Score))
	}

	if len(m.Window) > 0 {
		sum := imu.Summarize(m.Window)
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawString(fmt.Sprintf("peak: %5.2fg", sum.Peak))
		drawer.Dot = fixed.P(0, 52)
		drawer.DrawString(fmt.Sprintf("std:  %5.2fg", sum.StdDev))
	}
	return img
}

// Splash draws the start-up screen.
func Splash() *image1bit.VerticalLSB {
	img, drawer := newFrame()
	drawer.Dot = fixed.P(10, 26)
	drawer.DrawString("Anomaly Pi")
	drawer.Dot = fixed.P(5, 43)
	drawer.DrawString("Waiting for")
	drawer.Dot = fixed.P(25, 56)
	drawer.DrawString("window")
	return img
}
