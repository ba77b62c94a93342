package tools

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/bt-bridge/voice-ledger/shared"
)

// Wire format: signed 16-bit little-endian PCM, mono, 24 kHz.
const (
	WireSampleRate = 24000
	WireChannels   = 1
	bytesPerSample = 2
)

// EncodeForWire clamps every sample to [-1, 1] and scales it to int16,
// negative values by 32768 and non-negative ones by 32767.
func EncodeForWire(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(floatToPCM(s)))
	}
	return out
}

// DecodeFromWire is the inverse of EncodeForWire. An odd byte count is a
// truncated frame and is rejected.
func DecodeFromWire(data []byte) ([]float32, error) {
	if len(data)%bytesPerSample != 0 {
		return nil, &shared.CodecError{
			Op:  "decode",
			Err: fmt.Errorf("%w: odd PCM16 length %d", shared.ErrInvalidEncoding, len(data)),
		}
	}
	out := make([]float32, len(data)/bytesPerSample)
	for i := range out {
		out[i] = pcmToFloat(int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:])))
	}
	return out, nil
}

func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func FromBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &shared.CodecError{
			Op:  "base64",
			Err: fmt.Errorf("%w: %v", shared.ErrInvalidEncoding, err),
		}
	}
	return data, nil
}

// DecodeAudioDelta turns a base64 audio delta into normalized samples.
func DecodeAudioDelta(delta string) ([]float32, error) {
	data, err := FromBase64(delta)
	if err != nil {
		return nil, err
	}
	return DecodeFromWire(data)
}

// EncodeAudioFrame is the capture side counterpart of DecodeAudioDelta.
func EncodeAudioFrame(samples []float32) string {
	return ToBase64(EncodeForWire(samples))
}

func floatToPCM(s float32) int16 {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	case s != s: // NaN
		s = 0
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

func pcmToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

// Int16ToFloat normalizes device samples with the same asymmetric scale.
func Int16ToFloat(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = pcmToFloat(v)
	}
	return out
}

// DownmixInterleaved averages interleaved channels into mono.
func DownmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
