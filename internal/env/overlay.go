package env

import (
	"context"
	"sync/atomic"
	"time"

	"dronetrack-rl/internal/logging"
)

type overlayStats struct {
	frames  atomic.Uint64
	skipped atomic.Uint64
}

// OverlayStats counts frames the overlay has shown and dropped.
type OverlayStats struct {
	Frames  uint64 `json:"frames"`
	Skipped uint64 `json:"skipped"`
}

// OverlayStats returns the running counters of the render overlay.
func (e *Env) OverlayStats() OverlayStats {
	return OverlayStats{Frames: e.stats.frames.Load(), Skipped: e.stats.skipped.Load()}
}

// OverlayDone is closed when the current overlay goroutine exits. It is
// nil if no overlay was started.
func (e *Env) OverlayDone() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overlayDone
}

// startOverlay launches the overlay unless one is still running. An
// overlay cancelled by Close counts as finished even if its goroutine has
// not returned yet.
func (e *Env) startOverlay(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := logging.FromContext(ctx)

	if e.overlayDone != nil && e.overlayCancel != nil {
		select {
		case <-e.overlayDone:
		default:
			log.Debug("render overlay still running")
			return
		}
	}

	octx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	src, err := e.dialOverlay(octx)
	if err != nil {
		cancel()
		log.Warn("render overlay disabled", "error", err)
		return
	}
	done := make(chan struct{})
	e.overlayDone = done
	e.overlayCancel = cancel
	go e.runOverlay(octx, src, done)
}

func (e *Env) runOverlay(ctx context.Context, src FrameSource, done chan struct{}) {
	defer close(done)
	defer src.Close()
	log := logging.FromContext(ctx)
	camera, imageType := e.camera()
	w, h := e.cfg.Camera.Width, e.cfg.Camera.Height

	// ctx is this goroutine's own stop signal: a reconnect flips the shared
	// flag back on before a cancelled loop may have seen it off.
	for ctx.Err() == nil && e.connected.Load() {
		raw, err := src.GetImage(ctx, camera, imageType)
		if ctx.Err() != nil {
			break
		}
		var res DecodeResult
		if err != nil {
			res = skipped(FrameUnavailable, "%v", err)
		} else {
			res = DecodeFrame(raw, w, h)
		}
		if res.Skipped() {
			e.stats.skipped.Add(1)
			log.Debug("overlay frame skipped", "reason", res.Status)
			yield(ctx, e.cfg.Render.YieldInterval)
			continue
		}

		f := e.overlayNoise.Apply(res.Frame)
		if b := e.bbox.Load(); b != nil {
			DrawRect(f, *b, overlayColor)
		}
		if err := e.display.Show(f); err != nil {
			log.Debug("overlay display failed", "error", err)
		}
		e.stats.frames.Add(1)
		yield(ctx, e.cfg.Render.YieldInterval)
	}
	log.Debug("render overlay stopped", "frames", e.stats.frames.Load(), "skipped", e.stats.skipped.Load())
}

func yield(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
