// Package smartdecoder selects a region decoder backend and, optionally,
// falls back from the native decoder to the imaging decoder for sources whose
// pixel format the native codec cannot convert.
package smartdecoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/user/subscale/pkg/adapters/imagingdecoder"
	"github.com/user/subscale/pkg/adapters/logger"
	"github.com/user/subscale/pkg/adapters/nativedecoder"
	"github.com/user/subscale/pkg/async"
	"github.com/user/subscale/pkg/pixfmt"
	"github.com/user/subscale/pkg/ports"
	"github.com/user/subscale/pkg/regionerr"
)

// Backend names a region decoder implementation.
type Backend string

const (
	// BackendNative is the Go image codec decoder.
	BackendNative Backend = nativedecoder.BackendName
	// BackendImaging is the disintegration/imaging decoder with shared caches.
	BackendImaging Backend = imagingdecoder.BackendName
)

// ErrUnsupportedBackend is returned for an unknown backend name.
var ErrUnsupportedBackend = errors.New("smartdecoder: unsupported backend")

// ParseBackend parses a backend name, ignoring case. An empty name selects
// the native backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendNative:
		return BackendNative, nil
	case BackendImaging:
		return BackendImaging, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
	}
}

// Info contains information about the selected decoder.
type Info struct {
	// Backend is the decoder that serves requests first.
	Backend Backend
	// Fallback is the decoder used after the primary reports an undecodable
	// region. Empty when fallback is disabled.
	Fallback Backend
}

// Options configures the smart decoder behavior.
type Options struct {
	Backend Backend

	// Fallback enables switching from the native to the imaging backend.
	// It has no effect when Backend is imaging.
	Fallback bool

	Runner     *async.Runner
	FileSystem ports.FileSystem
	TileSize   ports.TileSizeFunc
	Sink       ports.DebugSink
	Logger     ports.Logger

	// Cache and ReleaseSharedCaches configure the imaging backend.
	Cache               *imagingdecoder.SharedCache
	ReleaseSharedCaches bool
}

// Decoder wraps a primary ports.RegionDecoder with an optional fallback.
type Decoder struct {
	primary ports.RegionDecoder
	info    Info
	logger  ports.Logger

	newFallback func() ports.RegionDecoder
	switched    atomic.Bool

	mu          sync.Mutex
	host        ports.HostContext
	locator     string
	fallback    ports.RegionDecoder
	fallbackErr error
}

// New creates a decoder for opts.Backend.
func New(opts Options) (*Decoder, Info, error) {
	backend, err := ParseBackend(string(opts.Backend))
	if err != nil {
		return nil, Info{}, err
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}

	native := func() ports.RegionDecoder {
		return nativedecoder.New(nativedecoder.Options{
			Runner:     opts.Runner,
			FileSystem: opts.FileSystem,
			TileSize:   opts.TileSize,
			Sink:       opts.Sink,
			Logger:     opts.Logger,
		})
	}
	alternate := func() ports.RegionDecoder {
		return imagingdecoder.New(imagingdecoder.Options{
			Runner:              opts.Runner,
			FileSystem:          opts.FileSystem,
			TileSize:            opts.TileSize,
			Sink:                opts.Sink,
			Logger:              opts.Logger,
			Cache:               opts.Cache,
			ReleaseSharedCaches: opts.ReleaseSharedCaches,
		})
	}

	d := &Decoder{
		info:   Info{Backend: backend},
		logger: opts.Logger.WithComponent("smart"),
	}
	switch backend {
	case BackendImaging:
		d.primary = alternate()
	default:
		d.primary = native()
		if opts.Fallback {
			d.info.Fallback = BackendImaging
			d.newFallback = alternate
		}
	}
	return d, d.info, nil
}

// Info returns information about the decoder.
func (d *Decoder) Info() Info {
	return d.info
}

// Init initialises the primary decoder. The fallback is initialised on first
// use with the same host and locator.
func (d *Decoder) Init(ctx context.Context, host ports.HostContext, locator string) *async.Task[ports.ImageInfo] {
	d.mu.Lock()
	if d.host == nil {
		d.host, d.locator = host, locator
	}
	d.mu.Unlock()
	return d.primary.Init(ctx, host, locator)
}

// DecodeRegion decodes on the primary decoder. With fallback enabled a
// regionerr.ErrDecodeFailed from the primary is retried on the fallback, and
// every later request goes straight to the fallback. Requests reach the
// backend in call order.
func (d *Decoder) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) *async.Task[*pixfmt.RGB565] {
	if d.newFallback == nil {
		return d.primary.DecodeRegion(ctx, rect, sampleSize)
	}
	if d.switched.Load() {
		if fallback := d.readyFallback(); fallback != nil {
			return fallback.DecodeRegion(ctx, rect, sampleSize)
		}
	}

	// Submit on the caller's goroutine to keep submission order; only the
	// wait and the retry move off it, since the runner must never wait on
	// its own jobs.
	primary := d.primary.DecodeRegion(ctx, rect, sampleSize)
	return async.Go(ctx, func(ctx context.Context) (*pixfmt.RGB565, error) {
		tile, err := primary.Wait(ctx)
		if ctx.Err() != nil {
			primary.Cancel()
			return nil, ctx.Err()
		}
		if !errors.Is(err, regionerr.ErrDecodeFailed) {
			return tile, err
		}
		d.logger.Warn("Falling back to %s backend for region %v", string(d.info.Fallback), rect)

		fallback, err := d.fallbackDecoder(ctx)
		if err != nil {
			return nil, err
		}
		d.switched.Store(true)
		return fallback.DecodeRegion(ctx, rect, sampleSize).Wait(ctx)
	})
}

func (d *Decoder) readyFallback() ports.RegionDecoder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fallback
}

func (d *Decoder) fallbackDecoder(ctx context.Context) (ports.RegionDecoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fallback != nil || d.fallbackErr != nil {
		return d.fallback, d.fallbackErr
	}
	if d.host == nil {
		return nil, regionerr.ErrNotInitialized
	}

	fallback := d.newFallback()
	if _, err := fallback.Init(ctx, d.host, d.locator).Wait(ctx); err != nil {
		if errors.Is(err, regionerr.ErrCancelled) {
			return nil, err
		}
		d.fallbackErr = fmt.Errorf("%w: fallback init: %w", regionerr.ErrDecodeFailed, err)
		return nil, d.fallbackErr
	}
	d.fallback = fallback
	return fallback, nil
}

// IsReady reports whether the primary decoder is ready.
func (d *Decoder) IsReady() bool {
	return d.primary.IsReady()
}

// Recycle releases the primary and, if it was used, the fallback.
func (d *Decoder) Recycle() {
	d.primary.Recycle()

	d.mu.Lock()
	fallback := d.fallback
	d.fallback = nil
	d.fallbackErr = fmt.Errorf("%w: recycled", regionerr.ErrNotInitialized)
	d.mu.Unlock()

	if fallback != nil {
		fallback.Recycle()
	}
}

// Ensure Decoder implements ports.RegionDecoder
var _ ports.RegionDecoder = (*Decoder)(nil)
