package tools

import (
	"context"
	"errors"
	"sync"

	"github.com/bt-bridge/voice-ledger/shared"
	"go.uber.org/zap"
)

// AudioChunk is one decoded delta. Seq is its arrival position.
type AudioChunk struct {
	Seq     uint64
	Samples []float32
}

// PlaybackQueue plays chunks back to back through a sink. A single drain
// goroutine runs while the queue is non-empty.
type PlaybackQueue struct {
	logger  shared.LoggerAdapter
	sink    AudioSink
	metrics *shared.Metrics

	mu      sync.Mutex
	queue   []AudioChunk
	seq     uint64
	playing bool
	muted   bool
	epoch   uint64
	idle    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPlaybackQueue(logger shared.LoggerAdapter, sink AudioSink, metrics *shared.Metrics) (*PlaybackQueue, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if sink == nil {
		return nil, errors.New("no audio sink provided")
	}
	if metrics == nil {
		metrics = shared.DefaultMetrics()
	}
	idle := make(chan struct{})
	close(idle)
	ctx, cancel := context.WithCancel(context.Background())
	return &PlaybackQueue{
		logger:  logger.With(zap.String("component", "playback")),
		sink:    sink,
		metrics: metrics,
		idle:    idle,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Enqueue appends samples to the tail and starts the drain loop if none is
// running. While muted the chunk is dropped and false is returned.
func (q *PlaybackQueue) Enqueue(samples []float32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.muted {
		return false
	}
	q.seq++
	q.queue = append(q.queue, AudioChunk{Seq: q.seq, Samples: samples})
	q.metrics.QueuedChunks.Add(q.ctx, 1)
	if !q.playing {
		q.playing = true
		q.idle = make(chan struct{})
		go q.drain(q.ctx, q.epoch, q.idle)
	}
	return true
}

func (q *PlaybackQueue) drain(ctx context.Context, epoch uint64, idle chan struct{}) {
	for {
		q.mu.Lock()
		if q.epoch != epoch {
			q.mu.Unlock()
			return
		}
		if len(q.queue) == 0 {
			q.playing = false
			close(idle)
			q.mu.Unlock()
			return
		}
		chunk := q.queue[0]
		q.queue[0] = AudioChunk{}
		q.queue = q.queue[1:]
		q.mu.Unlock()
		q.metrics.QueuedChunks.Add(ctx, -1)

		if err := q.sink.PlayChunk(ctx, chunk.Samples); err != nil && ctx.Err() == nil {
			q.logger.Error("playing audio chunk", err, zap.Uint64("seq", chunk.Seq))
		}
	}
}

// SetMuted only affects chunks enqueued afterwards; an in-flight chunk
// finishes.
func (q *PlaybackQueue) SetMuted(muted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.muted = muted
}

func (q *PlaybackQueue) Muted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.muted
}

func (q *PlaybackQueue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len counts queued chunks, excluding the one being played.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Clear discards queued chunks without playing them and interrupts the
// chunk in flight. The queue stays usable.
func (q *PlaybackQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := len(q.queue); n > 0 {
		q.metrics.QueuedChunks.Add(q.ctx, -int64(n))
	}
	q.queue = nil
	q.epoch++
	q.cancel()
	q.ctx, q.cancel = context.WithCancel(context.Background())
	if q.playing {
		q.playing = false
		close(q.idle)
	}
}

// Wait blocks until the queue has drained or ctx is done.
func (q *PlaybackQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
