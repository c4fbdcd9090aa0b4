package financial

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInitialInterval     = 30 * time.Second
	DefaultMaxInterval         = 30 * time.Minute
	DefaultMultiplier          = 2.0
	DefaultRandomizationFactor = 0.2
)

// maxSteps после стольких удвоений интервал заведомо упирается в потолок.
const maxSteps = 64

// Schedule ограниченная экспоненциальная задержка автоповтора записи.
type Schedule struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultSchedule 30s, x2, +-20%, не больше 30m.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialInterval:     DefaultInitialInterval,
		MaxInterval:         DefaultMaxInterval,
		Multiplier:          DefaultMultiplier,
		RandomizationFactor: DefaultRandomizationFactor,
	}
}

// Delay задержка перед следующей попыткой после attempts неудачных.
func (s Schedule) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > maxSteps {
		attempts = maxSteps
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.InitialInterval,
		RandomizationFactor: s.RandomizationFactor,
		Multiplier:          s.Multiplier,
		MaxInterval:         s.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	if d > s.MaxInterval {
		d = s.MaxInterval
	}
	return d
}

// NextAttempt время следующей попытки.
func (s Schedule) NextAttempt(now time.Time, attempts int) time.Time {
	return now.Add(s.Delay(attempts))
}
