package util

import (
	"math/rand"
	"time"
)

// SleepBetween blocks for a random duration in [min, max], standing in for
// real work (validation, transit). A non-positive max skips the sleep, which
// is how tests run the actors at full speed.
func SleepBetween(min, max time.Duration) {
	if max <= 0 || max < min {
		return
	}
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	time.Sleep(d)
}
