package gstreamer

import (
	"image"
	"testing"
	"time"

	"github.com/mengelbart/framegrab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	errs            []error
	discontinuities []framegrab.Discontinuity
}

func (o *recordingObserver) OnPlaybackError(err error) {
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) OnPositionDiscontinuity(d framegrab.Discontinuity) {
	o.discontinuities = append(o.discontinuities, d)
}

func TestNotifyDiscontinuityReachesObserver(t *testing.T) {
	obs := &recordingObserver{}
	e := &Engine{}
	e.SetObserver(obs)

	want := framegrab.Discontinuity{
		Old:    8 * time.Second,
		New:    8 * time.Second,
		Reason: framegrab.DiscontinuitySeek,
	}
	e.notifyDiscontinuity(want)
	require.Len(t, obs.discontinuities, 1)
	assert.Equal(t, want, obs.discontinuities[0])
}

func TestNotifyDiscontinuityWithoutObserver(t *testing.T) {
	e := &Engine{}
	assert.NotPanics(t, func() {
		e.notifyDiscontinuity(framegrab.Discontinuity{})
	})
}

func TestSnapshotBeforeFirstFrame(t *testing.T) {
	e := &Engine{}
	_, _, err := e.Snapshot()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestSnapshotReturnsCopyWithPTS(t *testing.T) {
	held := image.NewRGBA(image.Rect(0, 0, 2, 2))
	held.Pix[0] = 0xff
	e := &Engine{
		snapshot: held,
		snapPTS:  3 * time.Second,
	}

	img, pts, err := e.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, pts)
	assert.Equal(t, held.Pix, img.Pix)

	// mutating the returned image must not touch the held frame
	img.Pix[0] = 0x00
	assert.EqualValues(t, 0xff, held.Pix[0])
}
