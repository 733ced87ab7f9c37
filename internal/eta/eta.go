// Package eta estimates the remaining time of a transfer from a cumulative
// "bytes transferred" counter, smoothing throughput over the last few seconds.
package eta

import (
	"fmt"
	"math"
	"time"
)

// SampleWindow is the number of one-second throughput samples averaged into
// the speed estimate.
const SampleWindow = 5

// Unknown is displayed when no estimate can be made.
const Unknown = "Unknown"

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Option func(*Estimator)

// WithClock replaces the wall clock used to delimit one-second samples.
func WithClock(c Clock) Option {
	return func(e *Estimator) {
		e.clock = c
	}
}

// Estimator is not safe for concurrent use.
type Estimator struct {
	totalLen           uint64
	totalTransferred   uint64
	transferredThisSec uint64
	// samples holds per-second byte counts, most recent first.
	samples        []uint64
	lastSampleTime *time.Time
	secondsElapsed uint64

	clock Clock
}

// New creates an estimator for a transfer of totalLen bytes.
func New(totalLen uint64, opts ...Option) *Estimator {
	e := &Estimator{
		totalLen: totalLen,
		samples:  make([]uint64, 0, SampleWindow),
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StepWith records the cumulative number of bytes transferred so far.
func (e *Estimator) StepWith(totalTransferred uint64) {
	now := e.clock.Now()
	if e.lastSampleTime == nil {
		e.lastSampleTime = &now
	} else if now.Sub(*e.lastSampleTime) >= time.Second {
		e.flush()
		e.lastSampleTime = &now
	}

	// A counter that moves backwards contributes nothing.
	if totalTransferred > e.totalTransferred {
		e.transferredThisSec += totalTransferred - e.totalTransferred
	}
	e.totalTransferred = totalTransferred
}

func (e *Estimator) flush() {
	if len(e.samples) == SampleWindow {
		e.samples = e.samples[:SampleWindow-1]
	}
	e.samples = append(e.samples, 0)
	copy(e.samples[1:], e.samples[:len(e.samples)-1])
	e.samples[0] = e.transferredThisSec
	e.transferredThisSec = 0
	e.secondsElapsed++
}

// PrepareForNewTransfer resets all counters and samples. A non-nil totalLen
// replaces the transfer length.
func (e *Estimator) PrepareForNewTransfer(totalLen *uint64) {
	if totalLen != nil {
		e.totalLen = *totalLen
	}
	e.totalTransferred = 0
	e.transferredThisSec = 0
	e.samples = e.samples[:0]
	e.lastSampleTime = nil
	e.secondsElapsed = 0
}

// Speed returns the mean of the current samples in bytes per second.
func (e *Estimator) Speed() float64 {
	if len(e.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range e.samples {
		sum += float64(s)
	}
	return sum / float64(len(e.samples))
}

// Estimate returns the remaining time. The boolean is false when the
// estimate is unknown.
func (e *Estimator) Estimate() (time.Duration, bool) {
	if e.totalLen == 0 {
		return 0, false
	}
	speed := e.Speed()
	if speed == 0 {
		return 0, false
	}
	var remaining uint64
	if e.totalLen > e.totalTransferred {
		remaining = e.totalLen - e.totalTransferred
	}
	secs := float64(remaining) / speed
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs > math.MaxInt64/float64(time.Second) {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Fraction returns the completed share of the transfer in [0, 1].
func (e *Estimator) Fraction() float64 {
	if e.totalLen == 0 {
		return 0
	}
	return math.Min(1, float64(e.totalTransferred)/float64(e.totalLen))
}

// Samples returns a copy of the per-second samples, most recent first.
func (e *Estimator) Samples() []uint64 {
	out := make([]uint64, len(e.samples))
	copy(out, e.samples)
	return out
}

func (e *Estimator) TotalLen() uint64         { return e.totalLen }
func (e *Estimator) TotalTransferred() uint64 { return e.totalTransferred }
func (e *Estimator) SecondsElapsed() uint64   { return e.secondsElapsed }

// String returns the human readable remaining time.
func (e *Estimator) String() string {
	d, ok := e.Estimate()
	if !ok {
		return Unknown
	}
	return Format(d)
}

// Format renders a remaining duration: hours and minutes above 6000 seconds,
// minutes and seconds from 100 seconds, seconds below that.
func Format(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs > 6000:
		hours := int64(secs / 3600)
		minutes := int64(secs/60) % 60
		return fmt.Sprintf("%s %s", plural(hours, "hour"), plural(minutes, "minute"))
	case secs > 100:
		minutes := int64(secs / 60)
		seconds := int64(secs) % 60
		return fmt.Sprintf("%s %s", plural(minutes, "minute"), plural(seconds, "second"))
	default:
		return plural(int64(secs), "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
