package imagingdecoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/user/subscale/pkg/async"
	"github.com/user/subscale/pkg/mocks"
	"github.com/user/subscale/pkg/pixfmt"
	"github.com/user/subscale/pkg/ports"
	"github.com/user/subscale/pkg/regionerr"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 90, A: 255})
		}
	}
	return img
}

type fixture struct {
	runner *async.Runner
	fs     *mocks.FileSystem
	host   *mocks.Host
	cache  *SharedCache
	log    *mocks.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	runner := async.NewRunner()
	t.Cleanup(runner.Close)
	fs := mocks.NewFileSystem()
	return &fixture{
		runner: runner,
		fs:     fs,
		host:   mocks.NewHost("com.example.viewer"),
		cache:  NewSharedCache(CacheOptions{MemoryEntries: 2, DiskDir: "cache", FileSystem: fs}),
		log:    mocks.NewLogger(),
	}
}

func (f *fixture) newDecoder(release bool) *Decoder {
	return New(Options{
		Runner:              f.runner,
		FileSystem:          f.fs,
		TileSize:            ports.FixedTileSize(1024, 1024),
		Logger:              f.log,
		Cache:               f.cache,
		ReleaseSharedCaches: release,
	})
}

func initDecoder(t *testing.T, d *Decoder, host ports.HostContext, loc string) ports.ImageInfo {
	t.Helper()
	info, err := d.Init(context.Background(), host, loc).Wait(context.Background())
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	return info
}

func decode(d *Decoder, rect image.Rectangle, sampleSize int) (*pixfmt.RGB565, error) {
	return d.DecodeRegion(context.Background(), rect, sampleSize).Wait(context.Background())
}

func TestDecoder_InitIsSynchronous(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/a.png", encodePNG(t, gradient(30, 20)))
	d := f.newDecoder(false)

	task := d.Init(context.Background(), f.host, "file:///a.png")
	select {
	case <-task.Done():
	default:
		t.Fatal("expected Init to return a settled task")
	}

	info, err := task.Wait(context.Background())
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if info.Dimensions != (ports.Dimensions{Width: 30, Height: 20}) {
		t.Errorf("unexpected dimensions %+v", info.Dimensions)
	}
	if info.TileSize.Width != 1024 {
		t.Errorf("tile size not forwarded: %+v", info.TileSize)
	}
	if !d.IsReady() {
		t.Error("expected IsReady after Init")
	}
	if f.fs.StillOpen() != 0 {
		t.Error("source stream left open")
	}
}

func TestDecoder_InitErrors(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/bad.bin", []byte{0, 1, 2, 3})

	d := f.newDecoder(false)
	_, err := d.Init(context.Background(), f.host, "file:///bad.bin").Wait(context.Background())
	if !errors.Is(err, regionerr.ErrUnsupportedFormat) {
		t.Errorf("Init(bad) error = %v, want ErrUnsupportedFormat", err)
	}

	d = f.newDecoder(false)
	_, err = d.Init(context.Background(), f.host, "file:///missing.png").Wait(context.Background())
	if !errors.Is(err, regionerr.ErrSourceUnavailable) {
		t.Errorf("Init(missing) error = %v, want ErrSourceUnavailable", err)
	}

	_, err = d.Init(context.Background(), f.host, "file:///bad.bin").Wait(context.Background())
	if !errors.Is(err, regionerr.ErrAlreadyInitialized) {
		t.Errorf("second Init() error = %v, want ErrAlreadyInitialized", err)
	}

	if f.fs.StillOpen() != 0 {
		t.Error("source stream left open")
	}
}

func TestDecoder_FullRegionIsIdentity(t *testing.T) {
	f := newFixture(t)
	src := gradient(21, 13)
	f.fs.AddFile("/a.png", encodePNG(t, src))
	d := f.newDecoder(false)
	initDecoder(t, d, f.host, "file:///a.png")

	tile, err := decode(d, src.Bounds(), 1)
	if err != nil {
		t.Fatalf("DecodeRegion() error: %v", err)
	}
	want := pixfmt.Convert(src)
	for y := 0; y < 13; y++ {
		for x := 0; x < 21; x++ {
			if tile.RGB565At(x, y) != want.RGB565At(x, y) {
				t.Fatalf("pixel (%d,%d) differs", x, y)
			}
		}
	}
}

func TestDecoder_OutputSizeRoundsDown(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/a.png", encodePNG(t, gradient(100, 100)))
	d := f.newDecoder(false)
	initDecoder(t, d, f.host, "file:///a.png")

	tests := []struct {
		rect   image.Rectangle
		sample int
		w, h   int
	}{
		{image.Rect(0, 0, 10, 10), 3, 3, 3},
		{image.Rect(0, 0, 100, 100), 8, 12, 12},
		{image.Rect(50, 50, 51, 51), 16, 1, 1},
		{image.Rect(0, 0, 64, 32), 2, 32, 16},
	}

	for _, tt := range tests {
		tile, err := decode(d, tt.rect, tt.sample)
		if err != nil {
			t.Fatalf("DecodeRegion(%v, %d) error: %v", tt.rect, tt.sample, err)
		}
		if tile.Rect.Dx() != tt.w || tile.Rect.Dy() != tt.h {
			t.Errorf("DecodeRegion(%v, %d) = %dx%d, want %dx%d", tt.rect, tt.sample, tile.Rect.Dx(), tile.Rect.Dy(), tt.w, tt.h)
		}
	}
}

func TestDecoder_LargeImageQuarterSample(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large image in short mode")
	}

	f := newFixture(t)
	f.fs.AddFile("/big.png", encodePNG(t, image.NewGray(image.Rect(0, 0, 4000, 3000))))
	d := f.newDecoder(false)
	info := initDecoder(t, d, f.host, "file:///big.png")

	tile, err := decode(d, info.Dimensions.Bounds(), 4)
	if err != nil {
		t.Fatalf("DecodeRegion() error: %v", err)
	}
	if tile.Rect.Dx() != 1000 || tile.Rect.Dy() != 750 {
		t.Errorf("expected 1000x750 tile, got %v", tile.Rect)
	}
}

func TestDecoder_SixteenBitGrayscale(t *testing.T) {
	f := newFixture(t)
	src := image.NewGray16(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			src.SetGray16(x, y, color.Gray16{Y: 0xffff})
		}
	}
	f.fs.AddFile("/deep.png", encodePNG(t, src))
	d := f.newDecoder(false)
	initDecoder(t, d, f.host, "file:///deep.png")

	tile, err := decode(d, image.Rect(0, 0, 8, 8), 1)
	if err != nil {
		t.Fatalf("DecodeRegion() error: %v", err)
	}
	if tile.RGB565At(4, 4) != pixfmt.Pack(255, 255, 255) {
		t.Errorf("expected white, got %#04x", uint16(tile.RGB565At(4, 4)))
	}
}

func TestDecoder_Errors(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/a.png", encodePNG(t, gradient(10, 10)))
	d := f.newDecoder(false)

	if _, err := decode(d, image.Rect(0, 0, 1, 1), 1); !errors.Is(err, regionerr.ErrNotInitialized) {
		t.Errorf("decode before Init error = %v, want ErrNotInitialized", err)
	}

	initDecoder(t, d, f.host, "file:///a.png")

	if _, err := decode(d, image.Rect(0, 0, 20, 20), 1); !errors.Is(err, regionerr.ErrInvalidRegion) {
		t.Errorf("out-of-bounds error = %v, want ErrInvalidRegion", err)
	}
	if _, err := decode(d, image.Rect(0, 0, 5, 5), -1); !errors.Is(err, regionerr.ErrInvalidRegion) {
		t.Errorf("negative sample error = %v, want ErrInvalidRegion", err)
	}
}

func TestDecoder_SharedMemoryCache(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/a.png", encodePNG(t, gradient(16, 16)))

	first := f.newDecoder(false)
	initDecoder(t, first, f.host, "file:///a.png")
	if _, err := decode(first, image.Rect(0, 0, 8, 8), 1); err != nil {
		t.Fatalf("DecodeRegion() error: %v", err)
	}
	if !f.log.HasKey(ports.LevelDebug, "Decoded source %s") {
		t.Fatal("expected first decode to decode the source")
	}

	second := f.newDecoder(false)
	initDecoder(t, second, f.host, "file:///a.png")
	if _, err := decode(second, image.Rect(8, 8, 16, 16), 1); err != nil {
		t.Fatalf("DecodeRegion() error: %v", err)
	}
	if !f.log.HasKey(ports.LevelDebug, "Memory cache hit for %s") {
		t.Error("expected the second decoder to hit the shared memory cache")
	}
}

func TestDecoder_DiskCacheAfterMemoryDestroyed(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/a.png", encodePNG(t, gradient(16, 16)))

	d := f.newDecoder(false)
	initDecoder(t, d, f.host, "file:///a.png")
	if _, err := decode(d, image.Rect(0, 0, 16, 16), 2); err != nil {
		t.Fatalf("DecodeRegion() error: %v", err)
	}

	f.cache.DestroyMemoryCache()

	if _, err := decode(d, image.Rect(0, 0, 16, 16), 2); err != nil {
		t.Fatalf("DecodeRegion() error: %v", err)
	}
	if !f.log.HasKey(ports.LevelDebug, "Disk cache hit for %s") {
		t.Error("expected a disk cache hit")
	}
}

func TestDecoder_RecycleKeepsSharedCaches(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/a.png", encodePNG(t, gradient(16, 16)))

	d := f.newDecoder(false)
	initDecoder(t, d, f.host, "file:///a.png")
	decode(d, image.Rect(0, 0, 16, 16), 1)

	d.Recycle()

	if d.IsReady() {
		t.Error("expected not ready after Recycle")
	}
	if _, err := decode(d, image.Rect(0, 0, 1, 1), 1); !errors.Is(err, regionerr.ErrNotInitialized) {
		t.Errorf("decode after Recycle error = %v, want ErrNotInitialized", err)
	}
	if f.cache.Memory().Len() != 1 {
		t.Error("Recycle without ReleaseSharedCaches must not touch the shared caches")
	}
}

func TestDecoder_RecycleReleasesSharedCaches(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/a.png", encodePNG(t, gradient(16, 16)))

	other := f.newDecoder(false)
	initDecoder(t, other, f.host, "file:///a.png")
	decode(other, image.Rect(0, 0, 16, 16), 1)
	memory := f.cache.Memory()

	d := f.newDecoder(true)
	initDecoder(t, d, f.host, "file:///a.png")
	d.Recycle()

	if memory.Len() != 0 {
		t.Error("expected shared memory cache to be destroyed")
	}
	for path := range f.fs.GetAllFiles() {
		if path != "/a.png" {
			t.Errorf("disk cache entry %s survived", path)
		}
	}

	// The other decoder still works; it decodes the source again.
	if _, err := decode(other, image.Rect(0, 0, 4, 4), 1); err != nil {
		t.Errorf("other decoder failed after shared teardown: %v", err)
	}
}

func TestDecoder_ConcurrentDecodes(t *testing.T) {
	f := newFixture(t)
	f.fs.AddFile("/a.png", encodePNG(t, gradient(64, 64)))
	d := f.newDecoder(false)
	initDecoder(t, d, f.host, "file:///a.png")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := (i%4)*16, (i/4)*16
			if _, err := decode(d, image.Rect(x, y, x+16, y+16), 1+i%2); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent decode: %v", err)
	}
}
