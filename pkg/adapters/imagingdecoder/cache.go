package imagingdecoder

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/user/subscale/pkg/ports"
)

// DefaultMemoryEntries is the number of decoded sources the memory cache
// keeps when no size is configured.
const DefaultMemoryEntries = 4

// cacheMagic prefixes every uncompressed disk cache entry.
var cacheMagic = []byte("SSIC")

var errCorruptEntry = errors.New("imagingdecoder: corrupt disk cache entry")

// SourceKey returns the cache key for a compressed source.
func SourceKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryCache keeps the most recently used decoded sources.
// It is safe for concurrent use.
type MemoryCache struct {
	entries *lru.Cache[string, *image.NRGBA]
}

// NewMemoryCache creates a cache holding at most limit images.
func NewMemoryCache(limit int) *MemoryCache {
	if limit < 1 {
		limit = DefaultMemoryEntries
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, *image.NRGBA](limit)
	return &MemoryCache{entries: entries}
}

// Get returns the cached image for key.
func (c *MemoryCache) Get(key string) (*image.NRGBA, bool) {
	return c.entries.Get(key)
}

// Put stores img, evicting the least recently used entry when full.
func (c *MemoryCache) Put(key string, img *image.NRGBA) {
	c.entries.Add(key, img)
}

// Len returns the number of cached images.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.entries.Purge()
}

// DiskCache stores decoded sources as zstd-compressed pixel dumps.
// It is safe for concurrent use.
type DiskCache struct {
	dir string
	fs  ports.FileSystem

	mu      sync.Mutex
	written map[string]struct{}
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// NewDiskCache creates a disk cache rooted at dir.
func NewDiskCache(dir string, fs ports.FileSystem) (*DiskCache, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedFastest),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &DiskCache{
		dir:     dir,
		fs:      fs,
		written: make(map[string]struct{}),
		enc:     enc,
		dec:     dec,
	}, nil
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.dir, key+".zst")
}

// Get loads the image stored under key. A missing entry is not an error.
func (c *DiskCache) Get(key string) (*image.NRGBA, bool, error) {
	path := c.path(key)
	exists, err := c.fs.Exists(path)
	if err != nil || !exists {
		return nil, false, err
	}

	compressed, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	raw, err := c.dec.DecodeAll(compressed, nil)
	c.mu.Unlock()
	if err != nil {
		return nil, false, fmt.Errorf("zstd decode: %w", err)
	}

	img, err := unmarshalNRGBA(raw)
	if err != nil {
		return nil, false, err
	}
	return img, true, nil
}

// Put writes img under key.
func (c *DiskCache) Put(key string, img *image.NRGBA) error {
	if err := c.fs.MkdirAll(c.dir); err != nil {
		return err
	}

	c.mu.Lock()
	compressed := c.enc.EncodeAll(marshalNRGBA(img), nil)
	c.mu.Unlock()

	if err := c.fs.WriteFile(c.path(key), compressed); err != nil {
		return err
	}

	c.mu.Lock()
	c.written[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Clear removes every entry this cache wrote.
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.written))
	for key := range c.written {
		keys = append(keys, key)
	}
	c.written = make(map[string]struct{})
	c.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := c.fs.Remove(c.path(key)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close clears the cache and releases the codecs.
func (c *DiskCache) Close() error {
	err := c.Clear()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enc.Close()
	c.dec.Close()
	return err
}

func marshalNRGBA(img *image.NRGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	buf := make([]byte, 0, len(cacheMagic)+8+w*h*4)
	buf = append(buf, cacheMagic...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(w))
	buf = binary.BigEndian.AppendUint32(buf, uint32(h))
	for y := 0; y < h; y++ {
		start := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		buf = append(buf, img.Pix[start:start+w*4]...)
	}
	return buf
}

func unmarshalNRGBA(raw []byte) (*image.NRGBA, error) {
	header := len(cacheMagic) + 8
	if len(raw) < header || !bytes.Equal(raw[:len(cacheMagic)], cacheMagic) {
		return nil, errCorruptEntry
	}
	w := int(binary.BigEndian.Uint32(raw[len(cacheMagic):]))
	h := int(binary.BigEndian.Uint32(raw[len(cacheMagic)+4:]))
	if len(raw)-header != w*h*4 {
		return nil, errCorruptEntry
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, raw[header:])
	return img, nil
}

// CacheOptions configures a SharedCache.
type CacheOptions struct {
	// MemoryEntries bounds the memory cache. Zero uses DefaultMemoryEntries.
	MemoryEntries int

	// DiskDir enables the disk cache when non-empty.
	DiskDir string

	// FileSystem backs the disk cache.
	FileSystem ports.FileSystem
}

// SharedCache is the pair of caches every imaging decoder in the process
// reads through. Each cache is created on first use and can be destroyed
// independently; destroying affects all decoders.
type SharedCache struct {
	mu     sync.Mutex
	opts   CacheOptions
	memory *MemoryCache
	disk   *DiskCache
}

// NewSharedCache creates an empty shared cache.
func NewSharedCache(opts CacheOptions) *SharedCache {
	return &SharedCache{opts: opts}
}

var shared = NewSharedCache(CacheOptions{})

// Shared returns the process-wide cache used by decoders that are not given
// one explicitly.
func Shared() *SharedCache {
	return shared
}

// Configure replaces the options. Existing caches are destroyed first.
func (c *SharedCache) Configure(opts CacheOptions) error {
	err := c.Destroy()
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	return err
}

// Memory returns the memory cache, creating it if needed.
func (c *SharedCache) Memory() *MemoryCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memory == nil {
		c.memory = NewMemoryCache(c.opts.MemoryEntries)
	}
	return c.memory
}

// Disk returns the disk cache, creating it if needed. It returns nil when no
// disk directory is configured.
func (c *SharedCache) Disk() (*DiskCache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disk != nil {
		return c.disk, nil
	}
	if c.opts.DiskDir == "" || c.opts.FileSystem == nil {
		return nil, nil
	}
	disk, err := NewDiskCache(c.opts.DiskDir, c.opts.FileSystem)
	if err != nil {
		return nil, err
	}
	c.disk = disk
	return disk, nil
}

// DestroyMemoryCache drops the memory cache.
func (c *SharedCache) DestroyMemoryCache() {
	c.mu.Lock()
	memory := c.memory
	c.memory = nil
	c.mu.Unlock()
	if memory != nil {
		memory.Clear()
	}
}

// DestroyDiskCache removes the disk cache and its entries.
func (c *SharedCache) DestroyDiskCache() error {
	c.mu.Lock()
	disk := c.disk
	c.disk = nil
	c.mu.Unlock()
	if disk == nil {
		return nil
	}
	return disk.Close()
}

// Destroy tears down both caches.
func (c *SharedCache) Destroy() error {
	c.DestroyMemoryCache()
	return c.DestroyDiskCache()
}
