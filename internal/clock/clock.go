package clock

import "time"

// Clock abstracts wall-clock time so day-sensitive ledger math can be tested.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func New() Clock {
	return SystemClock{}
}
