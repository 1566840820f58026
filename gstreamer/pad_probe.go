package gstreamer

import (
	"log/slog"
	"time"

	"github.com/go-gst/go-gst/gst"
)

// frameLogProbe logs the pts of every buffer passing the pad it is attached
// to.
func frameLogProbe(vantagePointName string) func(p *gst.Pad, ppi *gst.PadProbeInfo) gst.PadProbeReturn {
	logger := slog.Default().With("vantage-point", vantagePointName)
	return func(p *gst.Pad, ppi *gst.PadProbeInfo) gst.PadProbeReturn {
		if (ppi.Type() & gst.PadProbeTypeBuffer) > 0 {
			if buffer := ppi.GetBuffer(); buffer != nil {
				logger.Debug("frame", "pts", time.Duration(buffer.PresentationTimestamp()))
			}
		}
		return gst.PadProbeOK
	}
}
