package framegrab

import (
	"errors"
	"time"
)

// ErrEngineReleased is the error reported for requests that reach an engine
// which was already released.
var ErrEngineReleased = errors.New("framegrab: engine already released")

// DiscontinuityReason classifies a jump of the playback position.
type DiscontinuityReason int

const (
	// DiscontinuitySeek is a discontinuity caused by an explicit seek.
	DiscontinuitySeek DiscontinuityReason = iota
	// DiscontinuityAuto is a discontinuity not caused by a seek, e.g. a
	// transition inside the media.
	DiscontinuityAuto
)

// Discontinuity reports that the playback position jumped from Old to New.
type Discontinuity struct {
	Old    time.Duration
	New    time.Duration
	Reason DiscontinuityReason
}

// Verdict tells the pipeline what to do with a frame handed to a FrameTap.
type Verdict int

const (
	// PassFrame forwards the frame downstream and signals that the tap is
	// ready for the next one.
	PassFrame Verdict = iota
	// HoldPipeline consumes the frame without forwarding it and withholds
	// the ready-for-next signal. The pipeline stalls until the next seek
	// flushes it. This is intentional backpressure, not an error state.
	HoldPipeline
)

// FrameTap receives every decoded frame before it reaches the regular output
// of the pipeline. Taps run on the pipeline worker context and must not
// block on the control context.
type FrameTap interface {
	HandleFrame(pts time.Duration) Verdict
}

// Observer receives playback lifecycle events. Events are dispatched on the
// control context of the engine.
type Observer interface {
	// OnPlaybackError reports a fatal playback error. The engine stays in
	// the error state afterwards, Err keeps returning the error.
	OnPlaybackError(err error)
	// OnPositionDiscontinuity reports a jump of the playback position.
	OnPositionDiscontinuity(d Discontinuity)
}

// Engine abstracts the playback engine that drives a frame-producing decode
// pipeline. Implementations own a control context, returned by Loop, and an
// independent pipeline worker context that produces decoded frames.
//
// SetSource, Prepare, SeekTo and Err must be called on the control context.
// SetObserver and SetFrameTap must be called once before Prepare. Released
// may be called from any goroutine.
type Engine interface {
	// Loop returns the control context of the engine.
	Loop() *Loop
	// SetSource sets the media the pipeline decodes. Changing the source
	// after Prepare is not supported.
	SetSource(uri string)
	// Prepare builds the pipeline and prerolls it paused. The first decoded
	// frame is handed to the frame tap.
	Prepare()
	// SeekTo moves the playback position. A seek that resolves to the
	// current position produces no frame and is reported to the observer as
	// a discontinuity with identical old and new positions.
	SeekTo(pos time.Duration)
	// Err returns the sticky fatal playback error, or nil.
	Err() error
	// Released reports whether Release was called.
	Released() bool
	SetObserver(o Observer)
	SetFrameTap(t FrameTap)
	// Release tears the pipeline down. The engine must not be used after.
	Release()
}
