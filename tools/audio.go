package tools

import (
	"context"
	"sync"
	"time"
)

// AudioFormat describes what a capture pipeline delivers.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
}

func (f AudioFormat) FrameSamples() int {
	return FrameSamples(f.FrameDuration, f.SampleRate, f.Channels)
}

// Capture is an open microphone. Frames is closed when capture ends; Err
// then reports why, nil for a regular Close.
type Capture interface {
	Frames() <-chan []float32
	Err() error
	Close() error
}

type AudioSource interface {
	Open(ctx context.Context, format AudioFormat) (Capture, error)
}

// AudioSink plays one chunk and returns once it has been heard or ctx is
// done.
type AudioSink interface {
	PlayChunk(ctx context.Context, samples []float32) error
}

// FrameAssembler cuts arbitrarily sized reads into fixed-size frames.
type FrameAssembler struct {
	size    int
	pending []float32
}

func NewFrameAssembler(frameSamples int) *FrameAssembler {
	if frameSamples <= 0 {
		frameSamples = 1
	}
	return &FrameAssembler{size: frameSamples, pending: make([]float32, 0, frameSamples)}
}

// Push appends samples and returns every frame completed by them.
func (a *FrameAssembler) Push(samples []float32) [][]float32 {
	var frames [][]float32
	for len(samples) > 0 {
		n := min(a.size-len(a.pending), len(samples))
		a.pending = append(a.pending, samples[:n]...)
		samples = samples[n:]
		if len(a.pending) == a.size {
			frames = append(frames, a.pending)
			a.pending = make([]float32, 0, a.size)
		}
	}
	return frames
}

// Flush returns the incomplete tail, if any.
func (a *FrameAssembler) Flush() []float32 {
	if len(a.pending) == 0 {
		return nil
	}
	tail := a.pending
	a.pending = make([]float32, 0, a.size)
	return tail
}

// AudioBuffer is a bounded byte buffer between a producer and a device
// callback that must never block. Positions are absolute byte counts so a
// writer can wait for its own data to be consumed.
type AudioBuffer struct {
	mu       sync.Mutex
	buffer   []byte
	cap      int
	written  uint64
	consumed uint64
	progress chan struct{}
}

func NewAudioBuffer(fixedCap int) *AudioBuffer {
	return &AudioBuffer{
		buffer:   make([]byte, 0, fixedCap),
		cap:      fixedCap,
		progress: make(chan struct{}),
	}
}

// Write appends data, dropping the oldest bytes on overflow. It returns the
// absolute position of the end of data.
func (ab *AudioBuffer) Write(data []byte) (mark uint64, dropped int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if len(ab.buffer)+len(data) > ab.cap {
		dropped = min(len(ab.buffer)+len(data)-ab.cap, len(ab.buffer))
		ab.buffer = ab.buffer[dropped:]
		ab.advance(dropped)
	}
	ab.buffer = append(ab.buffer, data...)
	ab.written += uint64(len(data))
	return ab.written, dropped
}

// Read fills p from the buffer and pads the remainder with silence.
func (ab *AudioBuffer) Read(p []byte) (n int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	n = copy(p, ab.buffer)
	ab.buffer = ab.buffer[n:]
	clear(p[n:])
	if n > 0 {
		ab.advance(n)
	}
	return n
}

// Reset discards everything not yet read and releases all waiters.
func (ab *AudioBuffer) Reset() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	n := len(ab.buffer)
	ab.buffer = ab.buffer[:0]
	ab.advance(n)
}

// DiscardThrough drops buffered bytes up to mark and keeps anything written
// after it.
func (ab *AudioBuffer) DiscardThrough(mark uint64) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if mark <= ab.consumed {
		return
	}
	n := int(min(mark-ab.consumed, uint64(len(ab.buffer))))
	ab.buffer = ab.buffer[n:]
	ab.advance(n)
}

func (ab *AudioBuffer) Len() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.buffer)
}

// WaitConsumed blocks until everything up to mark has been read or dropped.
func (ab *AudioBuffer) WaitConsumed(ctx context.Context, mark uint64) error {
	for {
		ab.mu.Lock()
		if ab.consumed >= mark {
			ab.mu.Unlock()
			return nil
		}
		progress := ab.progress
		ab.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-progress:
		}
	}
}

// advance must be called with mu held.
func (ab *AudioBuffer) advance(n int) {
	ab.consumed += uint64(n)
	close(ab.progress)
	ab.progress = make(chan struct{})
}
