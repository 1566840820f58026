// Package gstreamer implements a playback engine for frame extraction on
// top of a GStreamer decode pipeline.
package gstreamer

import (
	"sync"

	"github.com/go-gst/go-gst/gst"
)

var initOnce sync.Once

// Init initializes the GStreamer library. NewEngine calls it, calling it
// again is a no-op.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
	})
}

func SetProperties(e *gst.Element, pp map[string]any) error {
	for k, v := range pp {
		if err := e.SetProperty(k, v); err != nil {
			return err
		}
	}
	return nil
}
