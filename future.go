package framegrab

import (
	"context"
	"sync"
)

// FrameFuture is the asynchronous result handle of a single extraction
// request. It is completed exactly once, either with a Frame or with an
// error, and never changes afterwards.
type FrameFuture struct {
	mu        sync.Mutex
	done      chan struct{}
	frame     Frame
	err       error
	callbacks []func(Frame, error)
}

func newFrameFuture() *FrameFuture {
	return &FrameFuture{
		done: make(chan struct{}),
	}
}

// Done returns a channel that is closed once the future is completed.
func (f *FrameFuture) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome of the request. It must only be called after
// the Done channel is closed.
func (f *FrameFuture) Result() (Frame, error) {
	select {
	case <-f.done:
		return f.frame, f.err
	default:
		panic("framegrab: Result called on incomplete future")
	}
}

// Await blocks until the request completes or ctx is cancelled. Cancelling
// ctx abandons the wait, it does not cancel the request.
func (f *FrameFuture) Await(ctx context.Context) (Frame, error) {
	select {
	case <-f.done:
		return f.frame, f.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// whenDone registers cb to run when the future completes. If the future is
// already complete, cb runs inline on the calling goroutine, so chained
// requests are not delayed by an extra hop. Callbacks otherwise run on the
// goroutine that completes the future and must not block.
func (f *FrameFuture) whenDone(cb func(Frame, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		cb(f.frame, f.err)
		return
	default:
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// ResolvedFuture returns a future that already completed with frame.
func ResolvedFuture(frame Frame) *FrameFuture {
	f := newFrameFuture()
	f.resolve(frame)
	return f
}

// FailedFuture returns a future that already failed with err.
func FailedFuture(err error) *FrameFuture {
	f := newFrameFuture()
	f.fail(err)
	return f
}

func (f *FrameFuture) resolve(frame Frame) {
	f.complete(frame, nil)
}

func (f *FrameFuture) fail(err error) {
	f.complete(Frame{}, err)
}

func (f *FrameFuture) complete(frame Frame, err error) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		panic("framegrab: future completed twice")
	default:
	}
	f.frame = frame
	f.err = err
	cbs := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(frame, err)
	}
}
