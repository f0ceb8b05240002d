package executor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RestartPolicy decides whether and when a crashed worker is started again.
// A policy is stateful: Next advances the attempt counter and Reset starts over.
type RestartPolicy interface {
	// Next returns the delay before the next restart, or false to give up.
	Next() (time.Duration, bool)
	Reset()
}

// PolicyFactory builds a fresh RestartPolicy for one worker.
type PolicyFactory func() RestartPolicy

type noRestart struct{}

func (noRestart) Next() (time.Duration, bool) { return 0, false }
func (noRestart) Reset()                      {}

// NoRestart never restarts.
func NoRestart() RestartPolicy { return noRestart{} }

type backoffPolicy struct {
	b backoff.BackOff
}

func (p *backoffPolicy) Next() (time.Duration, bool) {
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

func (p *backoffPolicy) Reset() { p.b.Reset() }

// FixedDelay restarts after a constant delay, at most maxRetries times.
// Zero maxRetries means unlimited.
func FixedDelay(delay time.Duration, maxRetries uint64) RestartPolicy {
	var b backoff.BackOff = backoff.NewConstantBackOff(delay)
	if maxRetries > 0 {
		b = backoff.WithMaxRetries(b, maxRetries)
	}
	return &backoffPolicy{b: b}
}

// Exponential restarts with exponentially growing delays between initial and
// maxInterval. Zero maxRetries means unlimited.
func Exponential(initial, maxInterval time.Duration, maxRetries uint64) RestartPolicy {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = maxInterval
	eb.MaxElapsedTime = 0
	eb.Reset()

	var b backoff.BackOff = eb
	if maxRetries > 0 {
		b = backoff.WithMaxRetries(b, maxRetries)
	}
	return &backoffPolicy{b: b}
}

// ParsePolicy builds a PolicyFactory from its configuration name: "none",
// "fixed" or "exponential". Unknown names fall back to "none".
func ParsePolicy(name string, delay, maxDelay time.Duration, maxRetries uint64) PolicyFactory {
	switch name {
	case "fixed":
		return func() RestartPolicy { return FixedDelay(delay, maxRetries) }
	case "exponential":
		return func() RestartPolicy { return Exponential(delay, maxDelay, maxRetries) }
	default:
		return NoRestart
	}
}
