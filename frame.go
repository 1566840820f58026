package framegrab

import "time"

// Frame describes an extracted and decoded video frame.
type Frame struct {
	// PTS is the presentation timestamp of the frame within the media.
	// Depending on the decode granularity of the underlying pipeline it is
	// the timestamp of the closest frame at or after the requested position.
	PTS time.Duration
}
