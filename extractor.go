package framegrab

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Extractor requests single decoded frames from a continuously running
// decode pipeline. Requests are served strictly in submission order, one at
// a time: each request is chained behind the completion of the previous one
// and only then arms the pipeline with a seek to its target position.
//
// Two execution contexts are involved. The control context (the engine's
// Loop) owns all engine state and issues seeks. The pipeline worker context
// produces decoded frames and invokes the frame tap. The only state shared
// between the two is the pending slot, a single-occupancy cell exchanged
// with atomic operations so that the worker never blocks on the control
// context.
type Extractor struct {
	engine Engine
	loop   *Loop

	// pending holds the result handle of the request currently awaiting a
	// frame from the pipeline, or nil. Installed with CompareAndSwap on the
	// control context, taken with Swap(nil) by whichever of the frame tap
	// and the lifecycle observer wins.
	pending atomic.Pointer[FrameFuture]

	// lastRequested is the tail of the request chain.
	mu            sync.Mutex
	lastRequested *FrameFuture

	// lastExtracted answers a seek that resolves to the current position,
	// where the pipeline renders no new frame. Control context only.
	lastExtracted    Frame
	hasLastExtracted bool

	released atomic.Bool
}

var _ FrameTap = (*Extractor)(nil)
var _ Observer = (*Extractor)(nil)

// New wires an Extractor to engine and prepares playback of source. The
// engine prerolls paused; the first decoded frame resolves an internal
// request that seeds the chain and the last-extracted cache, so a later
// no-op seek always has a frame to repeat.
func New(engine Engine, source string) *Extractor {
	first := newFrameFuture()
	e := &Extractor{
		engine:        engine,
		loop:          engine.Loop(),
		lastRequested: first,
	}
	e.pending.Store(first)
	e.loop.Post(func() {
		engine.SetObserver(e)
		engine.SetFrameTap(e)
		engine.SetSource(source)
		engine.Prepare()
	})
	return e
}

// Extract requests the decoded frame nearest position. The returned future
// completes once the pipeline delivers a frame at or after position, with
// the cached previous frame if the seek resolves to the current position,
// or with an error if playback fails first. Extract never blocks.
func (e *Extractor) Extract(position time.Duration) *FrameFuture {
	next := newFrameFuture()
	e.mu.Lock()
	prev := e.lastRequested
	e.lastRequested = next
	e.mu.Unlock()
	prev.whenDone(func(frame Frame, err error) {
		if err != nil {
			// The error travels down the chain. The request after this one
			// re-checks the engine state itself.
			next.fail(err)
			return
		}
		posted := e.loop.Post(func() {
			e.arm(next, frame, position)
		})
		if !posted {
			// The loop only closes on release.
			next.fail(ErrEngineReleased)
		}
	})
	return next
}

// arm runs on the control context. prev is the frame delivered for the
// previous request in the chain.
func (e *Extractor) arm(next *FrameFuture, prev Frame, position time.Duration) {
	e.lastExtracted = prev
	e.hasLastExtracted = true
	err := e.engine.Err()
	if e.engine.Released() {
		err = ErrEngineReleased
	}
	if err != nil {
		next.fail(err)
		return
	}
	if !e.pending.CompareAndSwap(nil, next) {
		panic("framegrab: pending slot occupied while arming a new request")
	}
	e.engine.SeekTo(position)
}

// HandleFrame implements FrameTap. It runs on the pipeline worker context
// for every decoded frame before it reaches the regular output.
func (e *Extractor) HandleFrame(pts time.Duration) Verdict {
	pending := e.pending.Swap(nil)
	if pending == nil {
		panic("framegrab: frame delivered with no pending request")
	}
	pending.resolve(Frame{PTS: pts})
	// Withhold the frame and the ready-for-next signal. The pipeline stays
	// stalled until the seek of the next request flushes it.
	return HoldPipeline
}

// OnPlaybackError implements Observer. It fails the request currently
// waiting for a frame. Later queued requests fail through their own engine
// check when they arm, the error state stays observable.
func (e *Extractor) OnPlaybackError(err error) {
	slog.Error("playback failed", "error", err)
	if pending := e.pending.Swap(nil); pending != nil {
		pending.fail(err)
	}
}

// OnPositionDiscontinuity implements Observer. A seek that resolves to the
// position the pipeline already sits at renders no frame, so the pending
// request is answered with the previously extracted frame.
func (e *Extractor) OnPositionDiscontinuity(d Discontinuity) {
	if d.Reason != DiscontinuitySeek || d.Old != d.New {
		return
	}
	pending := e.pending.Swap(nil)
	if pending == nil {
		panic("framegrab: no-op seek with no pending request")
	}
	if !e.hasLastExtracted {
		panic("framegrab: no-op seek before any frame was extracted")
	}
	pending.resolve(e.lastExtracted)
}

// Release discards control-context work that has not started and tears the
// engine down asynchronously. Requests that are in flight when Release is
// called are not guaranteed to complete. The extractor must not be used
// after Release.
func (e *Extractor) Release() {
	if !e.released.CompareAndSwap(false, true) {
		return
	}
	e.loop.DiscardPending()
	e.loop.Post(e.engine.Release)
}
