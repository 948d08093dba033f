package imagingdecoder

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/user/subscale/pkg/ports"
)

// pipeline is a reusable decode request over one source. Callers configure
// it with reset, region and scale, then call decode. It is not safe for
// concurrent use.
type pipeline struct {
	data   []byte
	key    string
	cache  *SharedCache
	logger ports.Logger

	rect          image.Rectangle
	width, height int
}

func newPipeline(data []byte, cache *SharedCache, logger ports.Logger) *pipeline {
	return &pipeline{
		data:   data,
		key:    SourceKey(data),
		cache:  cache,
		logger: logger,
	}
}

// reset clears the region and scale.
func (p *pipeline) reset() *pipeline {
	p.rect = image.Rectangle{}
	p.width, p.height = 0, 0
	return p
}

// region clips the output to r in source coordinates.
func (p *pipeline) region(r image.Rectangle) *pipeline {
	p.rect = r
	return p
}

// scale sets the output size.
func (p *pipeline) scale(width, height int) *pipeline {
	p.width, p.height = width, height
	return p
}

func (p *pipeline) decode() (*image.NRGBA, error) {
	src, err := p.source()
	if err != nil {
		return nil, err
	}

	out := src
	if !p.rect.Empty() && p.rect != src.Rect {
		out = imaging.Crop(src, p.rect)
	}
	if p.width > 0 && p.height > 0 && (p.width != out.Rect.Dx() || p.height != out.Rect.Dy()) {
		out = imaging.Resize(out, p.width, p.height, imaging.Box)
	}
	if out.Rect.Empty() {
		return nil, fmt.Errorf("backend produced an empty image for %v", p.rect)
	}
	return out, nil
}

// source returns the decoded image, reading through the memory and disk
// caches.
func (p *pipeline) source() (*image.NRGBA, error) {
	memory := p.cache.Memory()
	if img, ok := memory.Get(p.key); ok {
		p.logger.Debug("Memory cache hit for %s", p.key[:12])
		return img, nil
	}

	disk, err := p.cache.Disk()
	if err != nil {
		p.logger.Warn("Failed to open disk cache: %s", err.Error())
	}
	if disk != nil {
		img, ok, err := disk.Get(p.key)
		if err != nil {
			p.logger.Warn("Failed to read disk cache entry: %s", err.Error())
		}
		if ok {
			p.logger.Debug("Disk cache hit for %s", p.key[:12])
			memory.Put(p.key, img)
			return img, nil
		}
	}

	decoded, err := imaging.Decode(bytes.NewReader(p.data))
	if err != nil {
		return nil, err
	}
	img := imaging.Clone(decoded)
	p.logger.Debug("Decoded source %s", p.key[:12])

	memory.Put(p.key, img)
	if disk != nil {
		if err := disk.Put(p.key, img); err != nil {
			p.logger.Warn("Failed to write disk cache entry: %s", err.Error())
		}
	}
	return img, nil
}
