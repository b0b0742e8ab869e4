package metering

import "time"

// Clock supplies the current time. Window boundary arithmetic depends only on
// this interface, so tests can inject fixed or advancing time.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by wall-clock time.
func SystemClock() Clock { return systemClock{} }
