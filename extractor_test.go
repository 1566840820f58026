package framegrab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine implements Engine for tests. All fields except the tap are
// only touched on the control loop or after synctest.Wait.
type fakeEngine struct {
	loop *Loop

	obs Observer
	tap FrameTap

	err      error
	released bool
	prepared bool

	seeks []time.Duration

	// seekFunc, if set, runs inside SeekTo on the control context.
	seekFunc func(pos time.Duration)
}

var _ Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		loop: NewLoop(),
	}
}

func (f *fakeEngine) Loop() *Loop            { return f.loop }
func (f *fakeEngine) SetSource(string)       {}
func (f *fakeEngine) Prepare()               { f.prepared = true }
func (f *fakeEngine) Err() error             { return f.err }
func (f *fakeEngine) Released() bool         { return f.released }
func (f *fakeEngine) SetObserver(o Observer) { f.obs = o }
func (f *fakeEngine) SetFrameTap(t FrameTap) { f.tap = t }

func (f *fakeEngine) SeekTo(pos time.Duration) {
	f.seeks = append(f.seeks, pos)
	if f.seekFunc != nil {
		f.seekFunc(pos)
	}
}

func (f *fakeEngine) Release() {
	f.released = true
	f.loop.Close()
}

// deliverFrame hands a decoded frame to the tap on a separate goroutine,
// like the streaming thread of a real pipeline would.
func (f *fakeEngine) deliverFrame(pts time.Duration) {
	go f.tap.HandleFrame(pts)
}

// newPreparedExtractor wires an extractor to engine and completes the
// preroll at pts 0.
func newPreparedExtractor(t *testing.T, engine *fakeEngine) *Extractor {
	t.Helper()
	t.Cleanup(engine.loop.Close)
	e := New(engine, "video.mp4")
	synctest.Wait()
	require.True(t, engine.prepared)
	require.NotNil(t, engine.tap)
	require.NotNil(t, engine.obs)
	engine.deliverFrame(0)
	synctest.Wait()
	return e
}

func TestExtractResolvesWithDeliveredFrame(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		f := e.Extract(5000 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, []time.Duration{5000 * time.Millisecond}, engine.seeks)

		engine.deliverFrame(5010 * time.Millisecond)
		frame, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5010*time.Millisecond, frame.PTS)
	})
}

func TestOverlappingRequestsAreSerialized(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		f1 := e.Extract(5 * time.Second)
		f2 := e.Extract(8 * time.Second)
		synctest.Wait()

		// only the first request armed the pipeline
		require.Equal(t, []time.Duration{5 * time.Second}, engine.seeks)
		assert.Same(t, f1, e.pending.Load())

		engine.deliverFrame(5010 * time.Millisecond)
		frame1, err := f1.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5010*time.Millisecond, frame1.PTS)

		// the second request arms only after the first resolved
		synctest.Wait()
		require.Equal(t, []time.Duration{5 * time.Second, 8 * time.Second}, engine.seeks)
		assert.Same(t, f2, e.pending.Load())
		select {
		case <-f2.Done():
			t.Fatal("second request resolved before its frame arrived")
		default:
		}

		engine.deliverFrame(8 * time.Second)
		frame2, err := f2.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 8*time.Second, frame2.PTS)
		assert.Nil(t, e.pending.Load())
	})
}

func TestRequestsResolveInSubmissionOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		const n = 10
		var mu sync.Mutex
		var order []int
		futures := make([]*FrameFuture, n)
		for i := range n {
			f := e.Extract(time.Duration(i) * time.Second)
			f.whenDone(func(Frame, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
			futures[i] = f
		}
		for i := range n {
			synctest.Wait()
			engine.deliverFrame(time.Duration(i) * time.Second)
		}
		for _, f := range futures {
			_, err := f.Await(context.Background())
			require.NoError(t, err)
		}
		synctest.Wait()
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, order, n)
		for i, got := range order {
			assert.Equal(t, i, got)
		}
	})
}

func TestNoOpSeekRepeatsLastFrame(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		f1 := e.Extract(8 * time.Second)
		synctest.Wait()
		engine.deliverFrame(8 * time.Second)
		frame1, err := f1.Await(context.Background())
		require.NoError(t, err)

		// the pipeline already sits at 8s, a repeated seek moves nothing
		engine.seekFunc = func(pos time.Duration) {
			engine.obs.OnPositionDiscontinuity(Discontinuity{
				Old:    pos,
				New:    pos,
				Reason: DiscontinuitySeek,
			})
		}
		f2 := e.Extract(8 * time.Second)
		frame2, err := f2.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, frame1, frame2)
		assert.Nil(t, e.pending.Load())
	})
}

func TestDiscontinuityWithMovedPositionIsIgnored(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		engine.seekFunc = func(pos time.Duration) {
			engine.obs.OnPositionDiscontinuity(Discontinuity{
				Old:    0,
				New:    pos,
				Reason: DiscontinuitySeek,
			})
		}
		f := e.Extract(3 * time.Second)
		synctest.Wait()

		// the request stays pending until the pipeline delivers a frame
		assert.Same(t, f, e.pending.Load())
		engine.deliverFrame(3 * time.Second)
		frame, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, frame.PTS)
	})
}

func TestPlaybackErrorFailsPendingAndLaterRequests(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		f1 := e.Extract(3 * time.Second)
		synctest.Wait()
		require.Equal(t, []time.Duration{3 * time.Second}, engine.seeks)

		playbackErr := errors.New("decoder failed")
		engine.loop.Post(func() {
			engine.err = playbackErr
			engine.obs.OnPlaybackError(playbackErr)
		})
		_, err := f1.Await(context.Background())
		assert.Equal(t, playbackErr, err)
		assert.Nil(t, e.pending.Load())

		// a later request fails through its own engine check without
		// arming the pipeline
		f2 := e.Extract(9 * time.Second)
		_, err = f2.Await(context.Background())
		assert.Equal(t, playbackErr, err)
		synctest.Wait()
		assert.Equal(t, []time.Duration{3 * time.Second}, engine.seeks)
		assert.Nil(t, e.pending.Load())
	})
}

func TestExtractAfterReleaseFails(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		e.Release()
		synctest.Wait()
		require.True(t, engine.released)

		f := e.Extract(time.Second)
		_, err := f.Await(context.Background())
		assert.ErrorIs(t, err, ErrEngineReleased)
	})
}

func TestReleaseIsIdempotent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		e.Release()
		e.Release()
		synctest.Wait()
		assert.True(t, engine.released)
	})
}

func TestFrameWithoutPendingRequestPanics(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		newPreparedExtractor(t, engine)

		// the preroll resolved the initial request, the slot is empty
		assert.Panics(t, func() {
			engine.tap.HandleFrame(time.Second)
		})
	})
}

func TestNoOpSeekWithoutPendingRequestPanics(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := newFakeEngine()
		e := newPreparedExtractor(t, engine)

		f := e.Extract(2 * time.Second)
		synctest.Wait()
		engine.deliverFrame(2 * time.Second)
		_, err := f.Await(context.Background())
		require.NoError(t, err)

		assert.Panics(t, func() {
			engine.obs.OnPositionDiscontinuity(Discontinuity{
				Old:    2 * time.Second,
				New:    2 * time.Second,
				Reason: DiscontinuitySeek,
			})
		})
	})
}
