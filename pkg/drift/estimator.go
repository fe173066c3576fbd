// Package drift estimates how far a stream's presentation timestamps run
// ahead of or behind a reference clock and decides how many samples a frame
// should be stretched or squeezed to.
package drift

import (
	"math"

	"github.com/saker-ai/audiosync/pkg/clock"
)

const (
	// NoSyncThreshold is the difference in seconds beyond which the clock is
	// snapped instead of corrected gradually.
	NoSyncThreshold = 10.0
	// Window is the number of differences averaged before corrections start.
	Window = 20
	// MaxCorrectionPercent bounds the per-frame sample count change.
	MaxCorrectionPercent = 10
)

// Phase describes the estimator state.
type Phase string

const (
	PhaseWarmingUp Phase = "warming_up"
	PhaseSteady    Phase = "steady"
	PhaseResync    Phase = "resync"
)

// Decision is the outcome of one Update call.
type Decision struct {
	Diff         float64
	AvgDiff      float64
	Samples      int
	Wanted       int
	Compensate   bool
	Reset        bool
	ClockWritten bool
	Phase        Phase
}

// Delta returns the number of samples to add (positive) or drop.
func (d Decision) Delta() int {
	return d.Wanted - d.Samples
}

// Estimator keeps an exponentially weighted average of pts minus clock.
// It is not safe for concurrent use; each stream owns one.
type Estimator struct {
	avgCoef        float64
	cumulativeDiff float64
	sampleCount    int
	lastDiff       float64
	phase          Phase
}

// New returns an estimator in the warming-up phase.
func New() *Estimator {
	return &Estimator{
		avgCoef: math.Exp(math.Log(0.01) / Window),
		phase:   PhaseWarmingUp,
	}
}

// Update folds one frame into the average. ptsSeconds is the frame
// timestamp, samples and rate describe the frame. The reference clock is
// written only on a hard resync.
func (e *Estimator) Update(ptsSeconds float64, ref clock.Clock, samples, rate int) Decision {
	diff := ptsSeconds - ref.Read()
	d := Decision{Diff: diff, Samples: samples, Wanted: samples}
	e.lastDiff = diff

	if !math.IsNaN(diff) && math.Abs(diff) < NoSyncThreshold {
		e.cumulativeDiff = diff + e.avgCoef*e.cumulativeDiff
		if e.sampleCount < Window {
			e.sampleCount++
			e.phase = PhaseWarmingUp
			d.Phase = e.phase
			return d
		}
		e.phase = PhaseSteady
		d.Phase = e.phase
		d.AvgDiff = e.cumulativeDiff * (1 - e.avgCoef)
		if rate <= 0 || samples <= 0 {
			return d
		}
		threshold := 2.0 * float64(samples) / float64(rate)
		if math.Abs(d.AvgDiff) >= threshold {
			d.Wanted = ClampWanted(samples, samples+int(diff*float64(rate)))
			d.Compensate = d.Wanted != samples
		}
		return d
	}

	e.sampleCount = 0
	e.cumulativeDiff = 0
	e.phase = PhaseResync
	d.Reset = true
	d.Phase = e.phase
	if math.Abs(diff) >= NoSyncThreshold {
		ref.Write(ptsSeconds)
		d.ClockWritten = true
	}
	return d
}

// ClampWanted bounds wanted to within MaxCorrectionPercent of samples.
func ClampWanted(samples, wanted int) int {
	lo := samples * (100 - MaxCorrectionPercent) / 100
	hi := samples * (100 + MaxCorrectionPercent) / 100
	if wanted < lo {
		return lo
	}
	if wanted > hi {
		return hi
	}
	return wanted
}

// CumulativeDiff returns the raw accumulator.
func (e *Estimator) CumulativeDiff() float64 {
	return e.cumulativeDiff
}

// SampleCount returns the number of differences folded in since the last
// reset, saturating at Window.
func (e *Estimator) SampleCount() int {
	return e.sampleCount
}

// LastDiff returns the most recent pts minus clock difference.
func (e *Estimator) LastDiff() float64 {
	return e.lastDiff
}

// Phase returns the current state.
func (e *Estimator) Phase() Phase {
	return e.phase
}

// AvgCoef returns the decay coefficient.
func (e *Estimator) AvgCoef() float64 {
	return e.avgCoef
}

// Reset clears the accumulator and restarts the warm-up.
func (e *Estimator) Reset() {
	e.cumulativeDiff = 0
	e.sampleCount = 0
	e.phase = PhaseWarmingUp
}
