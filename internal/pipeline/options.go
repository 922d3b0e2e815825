package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/bom-generator/internal/rendering"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConcurrency bounds how many certificate calls run at once. Values
// below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// WithCallTimeout bounds each backend call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d < 0 {
			d = 0
		}
		o.callTimeout = d
	}
}

// WithRenderer replaces the document renderer.
func WithRenderer(r rendering.Renderer) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.renderer = r
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) {
		o.onProgress = cb
	}
}

// WithRecorder persists runs and their documents.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}
