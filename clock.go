package fieldsync

import "time"

// Clock supplies the current time. Tests swap it for a controllable clock so
// TTL behavior can be checked without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
