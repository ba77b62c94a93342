package tools

import "time"

// FrameSamples is the number of interleaved samples in one frame of
// duration. Non-positive inputs yield 0.
func FrameSamples(duration time.Duration, rate, channels int) int {
	if duration <= 0 || rate <= 0 || channels <= 0 {
		return 0
	}
	return int(duration.Seconds() * float64(channels) * float64(rate))
}
