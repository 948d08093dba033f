// Package imagingdecoder implements ports.RegionDecoder on
// github.com/disintegration/imaging.
//
// Unlike the native decoder it reads the whole source into memory once per
// process and serves regions from a shared cache of decoded images. It
// handles grayscale, 16-bit and CMYK sources that the native decoder rejects.
package imagingdecoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
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
const BackendName = "imaging"

// Options configures a Decoder.
type Options struct {
	Runner     *async.Runner
	FileSystem ports.FileSystem
	TileSize   ports.TileSizeFunc
	Sink       ports.DebugSink
	Logger     ports.Logger

	// Cache defaults to Shared().
	Cache *SharedCache

	// ReleaseSharedCaches makes Recycle destroy both shared caches. This
	// affects every decoder using the same cache.
	ReleaseSharedCaches bool
}

// Decoder is the alternate region decoder.
type Decoder struct {
	runner       *async.Runner
	resolver     *source.Resolver
	tileSize     ports.TileSizeFunc
	sink         ports.DebugSink
	logger       ports.Logger
	cache        *SharedCache
	releaseCache bool

	initCalled atomic.Bool
	ready      atomic.Bool

	mu   sync.Mutex
	pipe *pipeline
	dims ports.Dimensions
}

// New creates a decoder.
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
	if opts.Cache == nil {
		opts.Cache = Shared()
	}
	log := opts.Logger.WithComponent(BackendName)
	return &Decoder{
		runner:       opts.Runner,
		resolver:     source.NewResolver(opts.FileSystem, log),
		tileSize:     opts.TileSize,
		sink:         opts.Sink,
		logger:       log,
		cache:        opts.Cache,
		releaseCache: opts.ReleaseSharedCaches,
	}
}

// Init reads the source and its header on the caller's goroutine and returns
// an already settled task.
func (d *Decoder) Init(ctx context.Context, host ports.HostContext, loc string) *async.Task[ports.ImageInfo] {
	if !d.initCalled.CompareAndSwap(false, true) {
		return async.Failed[ports.ImageInfo](fmt.Errorf("%w: %s", regionerr.ErrAlreadyInitialized, loc))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.logger.Debug("Initializing decoder for %s", loc)

	parsed, err := locator.Parse(loc)
	if err != nil {
		return async.Failed[ports.ImageInfo](err)
	}

	data, err := d.read(ctx, host, parsed)
	if err != nil {
		return async.Failed[ports.ImageInfo](err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return async.Failed[ports.ImageInfo](fmt.Errorf("%w: %w", regionerr.ErrUnsupportedFormat, err))
	}

	info := ports.ImageInfo{
		Dimensions: ports.Dimensions{Width: cfg.Width, Height: cfg.Height},
		TileSize:   d.tileSize(),
	}

	d.mu.Lock()
	d.pipe = newPipeline(data, d.cache, d.logger)
	d.dims = info.Dimensions
	d.ready.Store(true)
	d.mu.Unlock()

	d.logger.Debug("Decoder initialized: %dx%d (%s)", cfg.Width, cfg.Height, format)
	d.saveSourceInfo(parsed, format, info)
	return async.Completed(info)
}

func (d *Decoder) read(ctx context.Context, host ports.HostContext, loc locator.Locator) ([]byte, error) {
	rc, err := d.resolver.Open(ctx, host, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read source: %w", regionerr.ErrSourceUnavailable, err)
	}
	return data, nil
}

// DecodeRegion decodes rect scaled to max(1, w/sampleSize) x
// max(1, h/sampleSize) pixels.
func (d *Decoder) DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) *async.Task[*pixfmt.RGB565] {
	return async.Submit(ctx, d.runner, func(ctx context.Context) (tile *pixfmt.RGB565, err error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.pipe == nil {
			return nil, regionerr.ErrNotInitialized
		}
		if err := d.dims.CheckRegion(rect, sampleSize); err != nil {
			return nil, err
		}

		defer func() {
			if p := recover(); p != nil {
				tile, err = nil, fmt.Errorf("%w: backend panic: %v", regionerr.ErrDecodeFailed, p)
			}
		}()

		d.logger.Debug("Decoding region %v at sample size %d", rect, sampleSize)
		img, err := d.pipe.reset().
			region(rect).
			scale(max(1, rect.Dx()/sampleSize), max(1, rect.Dy()/sampleSize)).
			decode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", regionerr.ErrDecodeFailed, err)
		}

		if ctx.Err() != nil {
			d.logger.Debug("Decode result dropped: caller cancelled")
			return nil, ctx.Err()
		}

		tile = pixfmt.Convert(img)
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

// Recycle drops the pipeline. With ReleaseSharedCaches it also destroys the
// shared caches.
func (d *Decoder) Recycle() {
	d.ready.Store(false)

	d.mu.Lock()
	if d.pipe != nil {
		d.pipe.reset()
		d.pipe = nil
		d.logger.Debug("Decoder recycled")
	}
	d.mu.Unlock()

	if d.releaseCache {
		d.logger.Debug("Releasing shared caches")
		if err := d.cache.Destroy(); err != nil {
			d.logger.Warn("Failed to release shared caches: %s", err.Error())
		}
	}
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
