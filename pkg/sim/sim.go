// Package sim replays a vector stream against a device-under-test
// abstraction, mimicking what the ASIC tester does with the stimuli file.
// It is the only concurrent component of the pipeline: per vector, every
// pin's wave function runs as its own goroutine and the vector passes when
// all of them report a match.
package sim

import (
	"fmt"
	"io"
	"sync"

	"github.com/pulp-platform/dumpling/pkg/hp93000"
	"github.com/pulp-platform/dumpling/pkg/vector"
	"github.com/sirupsen/logrus"
)

// DUT is the minimal handle onto a simulated design: drive a signal or
// sample it. Implementations decide what a signal is.
type DUT interface {
	Drive(signal string, state vector.State)
	Sample(signal string) vector.State
}

// WaveFunc applies or samples one pin for one device cycle and reports
// whether the cycle matched. Apply-only waves always return true; acquire
// waves compare the sampled value.
type WaveFunc func(dut DUT, signal string, value vector.State) bool

// ApplyWave drives the vector value onto the signal. Never mismatches.
func ApplyWave(dut DUT, signal string, value vector.State) bool {
	dut.Drive(signal, value)
	return true
}

// AcquireWave samples the signal and compares it with the expected value.
// Don't-care values always match.
func AcquireWave(dut DUT, signal string, value vector.State) bool {
	if value == vector.DontCare {
		return true
	}
	got := dut.Sample(signal)
	if got != value {
		logrus.WithField("component", "sim").
			Errorf("Mismatch on signal %s: was %c instead of %c", signal, got, value)
		return false
	}
	return true
}

// Driver replays vectors onto a DUT. Every declared pin carries a wave
// function; by convention input pins get ApplyWave and output pins
// AcquireWave, but callers may install custom waves (e.g. a clock
// generator) per pin.
type Driver struct {
	pins  vector.Pins
	waves map[string]WaveFunc
	dut   DUT
	log   *logrus.Entry
}

// NewDriver creates a replay driver with the default wave function per pin
// direction.
func NewDriver(pins vector.Pins, dut DUT) *Driver {
	waves := make(map[string]WaveFunc, len(pins))
	for name, decl := range pins {
		if decl.Dir == vector.Output {
			waves[name] = AcquireWave
		} else {
			waves[name] = ApplyWave
		}
	}
	return &Driver{pins: pins, waves: waves, dut: dut, log: logrus.WithField("component", "sim")}
}

// SetWave overrides the wave function of one pin.
func (d *Driver) SetWave(pin string, wave WaveFunc) error {
	if _, ok := d.pins[pin]; !ok {
		return &vector.UnknownPinError{Name: pin}
	}
	d.waves[pin] = wave
	return nil
}

// ApplyVector applies one vector (of any kind) and reports whether every
// cycle matched.
func (d *Driver) ApplyVector(v vector.Vector) bool {
	switch v := v.(type) {
	case vector.Normal:
		return d.applyNormal(v)
	case vector.Loop:
		passed := true
		d.log.Infof("Looping over %d vectors for %d iterations.", len(v.Body), v.Repeat)
		for i := uint(0); i < v.Repeat; i++ {
			for _, b := range v.Body {
				passed = d.ApplyVector(b) && passed
			}
		}
		return passed
	case vector.MatchedLoop:
		return d.applyMatchedLoop(v)
	default:
		return false
	}
}

// ApplyVectors applies a vector sequence and reports the AND of all
// results.
func (d *Driver) ApplyVectors(vectors []vector.Vector) bool {
	passed := true
	for _, v := range vectors {
		passed = d.ApplyVector(v) && passed
	}
	return passed
}

// Run streams an AVC file through the driver. It applies every vector and
// reports whether all of them matched.
func (d *Driver) Run(reader *hp93000.VectorReader) (bool, error) {
	passed := true
	for {
		v, err := reader.Next()
		if err == io.EOF {
			return passed, nil
		}
		if err != nil {
			return false, fmt.Errorf("simulate avc: %w", err)
		}
		passed = d.ApplyVector(v) && passed
	}
}

func (d *Driver) applyNormal(v vector.Normal) bool {
	if v.Comment != "" {
		d.log.Info(v.Comment)
	}
	passed := true
	for i := uint(0); i < v.Repeat; i++ {
		passed = d.applyCycle(v) && passed
	}
	return passed
}

// applyCycle launches one wave goroutine per pin and awaits them all. The
// cycle result is the AND of every pin's result.
func (d *Driver) applyCycle(v vector.Normal) bool {
	var wg sync.WaitGroup
	results := make(chan bool, len(v.State))
	for pin, value := range v.State {
		wave := d.waves[pin]
		if wave == nil {
			continue
		}
		wg.Add(1)
		go func(pin string, value vector.State) {
			defer wg.Done()
			results <- wave(d.dut, d.pins[pin].Physical, value)
		}(pin, value)
	}
	wg.Wait()
	close(results)
	passed := true
	for r := range results {
		passed = passed && r
	}
	return passed
}

// applyMatchedLoop applies the condition vectors, and on mismatch runs the
// idle body and retries, up to the loop's retry budget.
func (d *Driver) applyMatchedLoop(v vector.MatchedLoop) bool {
	d.log.Infof("Starting matched loop with %d retries.", v.Retries)
	for attempt := uint(0); attempt <= v.Retries; attempt++ {
		passed := true
		for _, c := range v.Condition {
			passed = d.applyNormal(c) && passed
		}
		if passed {
			d.log.Infof("Matched loop succeeded after %d retries", attempt)
			return true
		}
		d.log.Info("Matched loop condition failed. Applying idle vectors and trying again.")
		for _, idle := range v.Idle {
			d.applyNormal(idle)
		}
	}
	d.log.Errorf("Matched loop failed permanently for %d retries.", v.Retries)
	return false
}
