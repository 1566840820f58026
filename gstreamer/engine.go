package gstreamer

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-glib/glib"
	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/mengelbart/framegrab"
)

// ErrNoSnapshot is returned by Snapshot before the pipeline held a frame.
var ErrNoSnapshot = errors.New("no frame held by the pipeline")

type EngineOption func(*Engine) error

// WithLoop runs the engine on an existing control loop instead of starting
// its own.
func WithLoop(l *framegrab.Loop) EngineOption {
	return func(e *Engine) error {
		e.loop = l
		return nil
	}
}

// WithSnapshots controls whether the engine keeps an RGBA copy of the frame
// currently held by the pipeline. Enabled by default.
func WithSnapshots(enabled bool) EngineOption {
	return func(e *Engine) error {
		e.snapshots = enabled
		return nil
	}
}

// Engine drives a paused GStreamer decode pipeline:
//
//	filesrc ! decodebin ! videoconvert ! capsfilter(RGBA) ! appsink
//
// The pipeline is never set playing. Every flushing seek makes it preroll
// exactly one frame at the target position into the appsink, where the
// installed frame tap intercepts it on the streaming thread. After the
// preroll the pipeline stalls until the next seek. That stall is
// intentional, it is the backpressure that keeps frames from piling up
// between extraction requests.
//
// Engine implements framegrab.Engine. All mutable engine state except the
// snapshot and the released flag is confined to the control loop.
type Engine struct {
	loop *framegrab.Loop

	source    string
	snapshots bool

	pipeline *gst.Pipeline
	sink     *app.Sink
	mainloop *glib.MainLoop

	obs framegrab.Observer
	tap framegrab.FrameTap

	err      error
	released atomic.Bool

	snapMu   sync.Mutex
	snapshot *image.RGBA
	snapPTS  time.Duration
}

var _ framegrab.Engine = (*Engine)(nil)

func NewEngine(opts ...EngineOption) (*Engine, error) {
	Init()
	e := &Engine{
		snapshots: true,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.loop == nil {
		e.loop = framegrab.NewLoop()
	}
	return e, nil
}

// Loop implements framegrab.Engine.
func (e *Engine) Loop() *framegrab.Loop {
	return e.loop
}

// SetObserver implements framegrab.Engine.
func (e *Engine) SetObserver(o framegrab.Observer) {
	e.obs = o
}

// SetFrameTap implements framegrab.Engine.
func (e *Engine) SetFrameTap(t framegrab.FrameTap) {
	e.tap = t
}

// SetSource implements framegrab.Engine.
func (e *Engine) SetSource(uri string) {
	e.source = uri
}

// Err implements framegrab.Engine. Control context only.
func (e *Engine) Err() error {
	return e.err
}

// Released implements framegrab.Engine.
func (e *Engine) Released() bool {
	return e.released.Load()
}

// Prepare implements framegrab.Engine. It builds the pipeline and prerolls
// it paused, which delivers the first decoded frame to the tap.
func (e *Engine) Prepare() {
	if err := e.buildPipeline(); err != nil {
		e.failPlayback(fmt.Errorf("failed to build pipeline: %w", err))
		return
	}
	e.watchBus()
	if err := e.pipeline.SetState(gst.StatePaused); err != nil {
		e.failPlayback(fmt.Errorf("failed to preroll pipeline: %w", err))
	}
}

func (e *Engine) buildPipeline() error {
	pipeline, err := gst.NewPipeline("framegrab")
	if err != nil {
		return err
	}
	filesrc, err := gst.NewElementWithProperties("filesrc", map[string]any{
		"location": e.source,
	})
	if err != nil {
		return err
	}
	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return err
	}
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return err
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return err
	}
	if err = capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGBA")); err != nil {
		return err
	}
	sink, err := app.NewAppSink()
	if err != nil {
		return err
	}
	if err = SetProperties(sink.Element, map[string]any{
		"sync":        false,
		"max-buffers": uint(1),
	}); err != nil {
		return err
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewPrerollFunc: e.newPreroll,
	})

	if err = pipeline.AddMany(filesrc, decodebin, convert, capsfilter, sink.Element); err != nil {
		return err
	}
	if err = filesrc.Link(decodebin); err != nil {
		return err
	}
	if err = gst.ElementLinkMany(convert, capsfilter, sink.Element); err != nil {
		return err
	}

	// probe to log pts of decoded frames
	convert.GetStaticPad("src").AddProbe(gst.PadProbeTypeBuffer, frameLogProbe("decoder src"))

	// decodebin exposes its pads only once the stream is typefound
	decodebin.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		var isVideo bool
		caps := pad.GetCurrentCaps()
		for i := 0; i < caps.GetSize(); i++ {
			if strings.HasPrefix(caps.GetStructureAt(i).Name(), "video/") {
				isVideo = true
			}
		}
		if !isVideo {
			return
		}
		if pad.Link(convert.GetStaticPad("sink")) != gst.PadLinkOK {
			e.loop.Post(func() {
				e.failPlayback(errors.New("failed to link decoder to video branch"))
			})
		}
	})

	e.pipeline = pipeline
	e.sink = sink
	return nil
}

// SeekTo implements framegrab.Engine. A seek that clamps or resolves to the
// position the pipeline already sits at flushes nothing and prerolls no
// frame; it is reported as a discontinuity with identical positions instead.
func (e *Engine) SeekTo(pos time.Duration) {
	if e.err != nil || e.released.Load() {
		return
	}
	var old time.Duration
	if ok, cur := e.pipeline.QueryPosition(gst.FormatTime); ok {
		old = time.Duration(cur)
	}
	target := max(pos, 0)
	if ok, dur := e.pipeline.QueryDuration(gst.FormatTime); ok {
		target = min(target, time.Duration(dur))
	}
	if target == old {
		e.notifyDiscontinuity(framegrab.Discontinuity{
			Old:    old,
			New:    old,
			Reason: framegrab.DiscontinuitySeek,
		})
		return
	}
	if !e.pipeline.SeekTime(target, gst.SeekFlagFlush|gst.SeekFlagAccurate) {
		e.failPlayback(fmt.Errorf("seek to %v failed", target))
		return
	}
	e.notifyDiscontinuity(framegrab.Discontinuity{
		Old:    old,
		New:    target,
		Reason: framegrab.DiscontinuitySeek,
	})
}

// notifyDiscontinuity runs on the control context.
func (e *Engine) notifyDiscontinuity(d framegrab.Discontinuity) {
	if e.obs != nil {
		e.obs.OnPositionDiscontinuity(d)
	}
}

// Release implements framegrab.Engine.
func (e *Engine) Release() {
	if !e.released.CompareAndSwap(false, true) {
		return
	}
	slog.Info("releasing engine")
	if e.pipeline != nil {
		e.pipeline.BlockSetState(gst.StateNull)
	}
	if e.mainloop != nil {
		e.mainloop.Quit()
	}
	e.loop.Close()
}

// Snapshot returns a copy of the RGBA image of the frame currently held by
// the pipeline together with its pts. The held frame changes with every
// preroll, so callers serving a specific extraction must check the pts
// against the frame they awaited. Safe to call from any goroutine.
func (e *Engine) Snapshot() (*image.RGBA, time.Duration, error) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	if e.snapshot == nil {
		return nil, 0, ErrNoSnapshot
	}
	img := image.NewRGBA(e.snapshot.Rect)
	copy(img.Pix, e.snapshot.Pix)
	return img, e.snapPTS, nil
}

// newPreroll runs on the streaming thread of the pipeline, the worker
// context of the frame tap.
func (e *Engine) newPreroll(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullPreroll()
	if sample == nil {
		return gst.FlowEOS
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}
	pts := time.Duration(buffer.PresentationTimestamp())
	if e.snapshots {
		e.storeSnapshot(pts, sample, buffer)
	}
	if e.tap == nil {
		return gst.FlowOK
	}
	if e.tap.HandleFrame(pts) == framegrab.PassFrame {
		// An appsink has no downstream to forward to. Passing only means
		// the next preroll does not have to wait for a seek, which cannot
		// happen while the pipeline is held paused anyway.
		slog.Debug("tap passed frame", "pts", pts)
	}
	return gst.FlowOK
}

func (e *Engine) storeSnapshot(pts time.Duration, sample *gst.Sample, buffer *gst.Buffer) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return
	}
	structure := caps.GetStructureAt(0)
	w, werr := structure.GetValue("width")
	h, herr := structure.GetValue("height")
	if werr != nil || herr != nil {
		return
	}
	width, wok := w.(int)
	height, hok := h.(int)
	if !wok || !hok || width <= 0 || height <= 0 {
		return
	}
	mapinfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapinfo.Bytes()
	if len(data) < width*height*4 {
		return
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, data[:width*height*4])
	e.snapMu.Lock()
	e.snapshot = img
	e.snapPTS = pts
	e.snapMu.Unlock()
}

func (e *Engine) watchBus() {
	e.mainloop = glib.NewMainLoop(glib.MainContextDefault(), false)
	e.pipeline.GetPipelineBus().AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageError:
			err := msg.ParseError()
			slog.Error("pipeline error", "error", err.Error(), "debug", err.DebugString())
			e.loop.Post(func() {
				e.failPlayback(err)
			})
		case gst.MessageEOS:
			slog.Info("end of stream")
		}
		return true
	})
	go e.mainloop.Run()
}

// failPlayback runs on the control context. The first error sticks, every
// request armed afterwards observes it through Err.
func (e *Engine) failPlayback(err error) {
	if e.err != nil {
		return
	}
	e.err = err
	if e.obs != nil {
		e.obs.OnPlaybackError(err)
	}
}
