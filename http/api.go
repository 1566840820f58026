// Package http implements the REST API of the frame extraction service.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/framegrab"
	"golang.org/x/time/rate"
)

// FrameService is the extraction surface exposed by the API. Implemented by
// framegrab.Extractor.
type FrameService interface {
	Extract(position time.Duration) *framegrab.FrameFuture
}

// SnapshotService is implemented by engines that can read the frame held by
// the pipeline back into an image. The returned pts identifies the frame the
// image was taken from.
type SnapshotService interface {
	Snapshot() (*image.RGBA, time.Duration, error)
}

type APIOption func(*API)

// WithSnapshots enables the PNG endpoint.
func WithSnapshots(snapshots SnapshotService) APIOption {
	return func(a *API) {
		a.snapshots = snapshots
	}
}

// WithRequestLimit bounds the rate of extraction requests the API accepts.
// Extractions are serialized behind each other, an unbounded queue would
// let a single client grow the request chain without limit.
func WithRequestLimit(limit rate.Limit, burst int) APIOption {
	return func(a *API) {
		a.limiter = rate.NewLimiter(limit, burst)
	}
}

type API struct {
	logger    *slog.Logger
	frames    FrameService
	snapshots SnapshotService
	limiter   *rate.Limiter
}

func NewAPI(frames FrameService, opts ...APIOption) *API {
	a := &API{
		logger:  slog.Default(),
		frames:  frames,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) RegisterRoutes(mux *httprouter.Router) {
	mux.HandlerFunc("GET", "/api/v1/frames/:position", a.limit(a.GetFrame))
	mux.HandlerFunc("GET", "/api/v1/frames/:position/png", a.limit(a.GetFramePNG))
}

func (a *API) GetFrame(w http.ResponseWriter, r *http.Request) {
	position, ok := a.position(w, r)
	if !ok {
		return
	}
	frame, err := a.frames.Extract(position).Await(r.Context())
	if err != nil {
		a.extractionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int64{
		"pts_ms": frame.PTS.Milliseconds(),
	}); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

func (a *API) GetFramePNG(w http.ResponseWriter, r *http.Request) {
	if a.snapshots == nil {
		http.Error(w, "snapshots not enabled", http.StatusNotFound)
		return
	}
	position, ok := a.position(w, r)
	if !ok {
		return
	}
	frame, err := a.frames.Extract(position).Await(r.Context())
	if err != nil {
		a.extractionError(w, err)
		return
	}
	img, pts, err := a.snapshots.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if pts != frame.PTS {
		// a concurrent request re-armed the pipeline and the held frame
		// moved on before we could read it back
		http.Error(w, "snapshot no longer matches the extracted frame", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		a.logger.Error("failed to encode snapshot", "error", err)
	}
}

func (a *API) position(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	params := httprouter.ParamsFromContext(r.Context())
	ms, err := strconv.ParseInt(params.ByName("position"), 10, 64)
	if err != nil || ms < 0 {
		http.Error(w, "position must be a non-negative integer of milliseconds", http.StatusBadRequest)
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func (a *API) extractionError(w http.ResponseWriter, err error) {
	if errors.Is(err, framegrab.ErrEngineReleased) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// client went away while the request was queued
		return
	}
	a.logger.Error("extraction failed", "error", err)
	http.Error(w, err.Error(), http.StatusBadGateway)
}

func (a *API) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			http.Error(w, "too many extraction requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
