package framegrab

import "sync"

// Loop is a serial executor backed by a single goroutine. It is the control
// context of an engine: engine state is only touched from functions posted
// here, so no function posted to the loop ever needs a lock for it.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

// NewLoop starts a new loop.
func NewLoop() *Loop {
	l := &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn to run on the loop goroutine. Functions run in the order
// they were posted. Posting to a closed loop drops fn and returns false.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.wakeUp()
	return true
}

// DiscardPending drops all queued functions that have not started running.
// A function that is currently running is unaffected.
func (l *Loop) DiscardPending() {
	l.mu.Lock()
	l.queue = nil
	l.mu.Unlock()
}

// Close discards queued functions and stops the loop goroutine after a
// currently running function returns. Close does not wait and is safe to
// call from the loop goroutine itself.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	l.wakeUp()
}

// Done returns a channel that is closed once the loop goroutine exited.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) wakeUp() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 {
			if l.closed {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}
