package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		rate     int
		channels int
		expected int
	}{
		{name: "wire frame 100ms", duration: 100 * time.Millisecond, rate: WireSampleRate, channels: WireChannels, expected: 2400},
		{name: "wire frame 20ms", duration: 20 * time.Millisecond, rate: WireSampleRate, channels: WireChannels, expected: 480},
		{name: "device stereo 48kHz 10ms", duration: 10 * time.Millisecond, rate: 48000, channels: 2, expected: 960},
		{name: "zero duration", duration: 0, rate: WireSampleRate, channels: 1, expected: 0},
		{name: "negative duration", duration: -time.Second, rate: WireSampleRate, channels: 1, expected: 0},
		{name: "zero rate", duration: time.Second, rate: 0, channels: 1, expected: 0},
		{name: "zero channels", duration: time.Second, rate: WireSampleRate, channels: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FrameSamples(tt.duration, tt.rate, tt.channels))
		})
	}
}
