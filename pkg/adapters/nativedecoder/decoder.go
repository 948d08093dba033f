// Package nativedecoder implements ports.RegionDecoder on the Go image codecs.
//
// The decoder keeps one codec handle per image. Decodes run on an async.Runner
// and additionally hold the decoder's lock, so a handle is never used by two
// goroutines at once and is never released mid-decode.
//
// The standard codecs cannot decode a sub-rectangle, so the first region
// request decodes the whole image and the handle keeps it in memory until
// Recycle. Memory use is therefore proportional to the full source, not the
// requested tile.
//
// CMYK and 16-bit grayscale sources are rejected with ErrDecodeFailed on
// purpose: they mirror the pixel formats the platform region decoder cannot
// produce, and callers are expected to fall back to the imaging backend.
package nativedecoder

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/user/subscale/pkg/adapters/logger"
	"github.com/user/subscale/pkg/adapters/nullsink"
	"github.com/user/subscale/pkg/async"
	"github.com/user/subscale/pkg/locator"
	"github.com/user/subscale/pkg/pixfmt"
	"github.com/user/subscale/pkg/ports"
	"github.com/user/subscale/pkg/regionerr"
	"github.com/user/subscale/pkg/source"
)

// BackendName identifies this decoder in logs and debug output.
const BackendName = "native"

// Options configures a Decoder. Zero values fall back to defaults: the
// process-wide runner, the default tile size, a no-op logger and sink.
type Options struct {
	Runner     *async.Runner
	FileSystem ports.FileSystem
	TileSize   ports.TileSizeFunc
	Sink       ports.DebugSink
	Logger     ports.Logger
}

// Decoder is the primary region decoder.
type Decoder struct {
	runner   *async.Runner
	resolver *source.Resolver
	tileSize ports.TileSizeFunc
	sink     ports.DebugSink
	logger   ports.Logger

	initCalled atomic.Bool
	ready      atomic.Bool

	mu       sync.Mutex
	handle   *handle
	dims     ports.Dimensions
	recycled bool
}

// New creates a decoder. fs is required when file:// locators are used.
func New(opts Options) *Decoder {
	if opts.Runner == nil {
		opts.Runner = async.Default()
	}
	if opts.TileSize == nil {
		opts.TileSize = ports.DefaultTileSize
	}
	if opts.Sink == nil {
		opts.Sink = nullsink.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoop()
	}
	log := opts.Logger.WithComponent(BackendName)
	return &Decoder{
		runner:   opts.Runner,
		resolver: source.NewResolver(opts.FileSystem, log),
		tileSize: opts.TileSize,
		sink:     opts.Sink,
		logger:   log,
	}
}

// Init resolves loc, opens the codec handle and reports the image size. The
// source stream is closed before the task settles.
func (d *Decoder) Init(ctx context.Context, host ports.HostContext, loc string) *async.Task[ports.ImageInfo] {
	if !d.initCalled.CompareAndSwap(false, true) {
		return async.Failed[ports.ImageInfo](fmt.Errorf("%w: %s", regionerr.ErrAlreadyInitialized, loc))
	}

	return async.Submit(ctx, d.runner, func(ctx context.Context) (ports.ImageInfo, error) {
		d.logger.Debug("Initializing decoder for %s", loc)

		parsed, err := locator.Parse(loc)
		if err != nil {
			return ports.ImageInfo{}, err
		}

		h, err := d.open(ctx, host, parsed)
		if err != nil {
			return ports.ImageInfo{}, err
		}

		if ctx.Err() != nil {
			h.release()
			d.logger.Debug("Init skipped: caller cancelled")
			return ports.ImageInfo{}, ctx.Err()
		}

		info := ports.ImageInfo{
			Dimensions: ports.Dimensions{Width: h.width(), Height: h.height()},
			TileSize:   d.tileSize(),
		}

		d.mu.Lock()
		if d.recycled {
			d.mu.Unlock()
			h.release()
			return ports.ImageInfo{}, fmt.Errorf("%w: recycled during init", regionerr.ErrNotInitialized)
		}
		d.handle = h
		d.dims = info.Dimensions
		d.ready.Store(true)
		d.mu.Unlock()

		d.logger.Debug("Decoder initialized: %dx%d (%s)", h.width(), h.height(), h.format)
		d.saveSourceInfo(parsed, h.format, info)
		return info, nil
	})
}

func (d *Decoder) open(ctx context.Context, host ports.HostContext, loc locator.Locator) (*handle, error) {
	rc, err := d.resolver.Open(ctx, host, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return openHandle(rc)
}

// DecodeRegion decodes rect at sampleSize. The output is
// ceil(w/sampleSize) x ceil(h/sampleSize) pixels.
func (d *Decoder) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) *async.Task[*pixfmt.RGB565] {
	return async.Submit(ctx, d.runner, func(ctx context.Context) (*pixfmt.RGB565, error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.handle == nil {
			return nil, regionerr.ErrNotInitialized
		}
		if err := d.dims.CheckRegion(rect, sampleSize); err != nil {
			return nil, err
		}

		d.logger.Debug("Decoding region %v at sample size %d", rect, sampleSize)
		tile, err := d.handle.decodeRegion(rect, sampleSize)
		if err != nil {
			return nil, err
		}
		if tile == nil {
			d.logger.Warn("Decoder returned no usable pixel data for %v", rect)
			return nil, fmt.Errorf("%w: decoder returned no usable pixel data - format may be unsupported", regionerr.ErrDecodeFailed)
		}

		if ctx.Err() != nil {
			d.logger.Debug("Decode result dropped: caller cancelled")
			return nil, ctx.Err()
		}

		d.logger.Debug("Decoded tile %dx%d", tile.Rect.Dx(), tile.Rect.Dy())
		if d.sink.Enabled() {
			if err := d.sink.SaveTile(rect, sampleSize, tile); err != nil {
				d.logger.Warn("Failed to write debug tile: %s", err.Error())
			}
		}
		return tile, nil
	})
}

// IsReady reports whether Init succeeded and Recycle has not been called.
func (d *Decoder) IsReady() bool {
	return d.ready.Load()
}

// Recycle releases the codec handle. It waits for a decode in progress.
func (d *Decoder) Recycle() {
	d.ready.Store(false)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.recycled = true
	if d.handle == nil {
		return
	}
	d.handle.release()
	d.handle = nil
	d.logger.Debug("Decoder recycled")
}

func (d *Decoder) saveSourceInfo(loc locator.Locator, format string, info ports.ImageInfo) {
	if !d.sink.Enabled() {
		return
	}
	data, err := json.MarshalIndent(ports.SourceInfo{
		Locator:    loc.String(),
		Kind:       loc.Kind().String(),
		Backend:    BackendName,
		Format:     format,
		Width:      info.Dimensions.Width,
		Height:     info.Dimensions.Height,
		TileWidth:  info.TileSize.Width,
		TileHeight: info.TileSize.Height,
	}, "", "  ")
	if err != nil {
		return
	}
	if err := d.sink.SaveSourceInfo(data); err != nil {
		d.logger.Warn("Failed to write debug source info: %s", err.Error())
	}
}

var _ ports.RegionDecoder = (*Decoder)(nil)
