package smartdecoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/user/subscale/pkg/adapters/imagingdecoder"
	"github.com/user/subscale/pkg/adapters/nativedecoder"
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

func newOptions(t *testing.T, fs *mocks.FileSystem, log *mocks.Logger) Options {
	t.Helper()
	runner := async.NewRunner()
	t.Cleanup(runner.Close)
	return Options{
		Runner:     runner,
		FileSystem: fs,
		Logger:     log,
		Cache:      imagingdecoder.NewSharedCache(imagingdecoder.CacheOptions{}),
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendNative, false},
		{"native", BackendNative, false},
		{"Imaging", BackendImaging, false},
		{" imaging ", BackendImaging, false},
		{"skia", "", true},
	}

	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q) error = %v", tt.in, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnsupportedBackend) {
			t.Errorf("ParseBackend(%q) error %v does not wrap ErrUnsupportedBackend", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	fs := mocks.NewFileSystem()

	opts := newOptions(t, fs, mocks.NewLogger())
	d, info, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, ok := d.primary.(*nativedecoder.Decoder); !ok || info.Backend != BackendNative {
		t.Errorf("expected native primary, got %T (%s)", d.primary, info.Backend)
	}
	if info.Fallback != "" {
		t.Errorf("expected no fallback, got %s", info.Fallback)
	}

	opts.Backend = BackendImaging
	opts.Fallback = true
	d, info, err = New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, ok := d.primary.(*imagingdecoder.Decoder); !ok || info.Backend != BackendImaging {
		t.Errorf("expected imaging primary, got %T (%s)", d.primary, info.Backend)
	}
	if info.Fallback != "" {
		t.Errorf("imaging backend should not have a fallback, got %s", info.Fallback)
	}

	opts.Backend = "gpu"
	if _, _, err := New(opts); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("New(gpu) error = %v, want ErrUnsupportedBackend", err)
	}
}

func TestDecoder_FallsBackOnUndecodablePixels(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.AddFile("/deep.png", encodePNG(t, image.NewGray16(image.Rect(0, 0, 32, 32))))
	log := mocks.NewLogger()

	opts := newOptions(t, fs, log)
	opts.Fallback = true
	d, info, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if info.Fallback != BackendImaging {
		t.Fatalf("expected imaging fallback, got %q", info.Fallback)
	}

	host := mocks.NewHost("com.example.viewer")
	if _, err := d.Init(context.Background(), host, "file:///deep.png").Wait(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	tile, err := d.DecodeRegion(context.Background(), image.Rect(0, 0, 32, 32), 2).Wait(context.Background())
	if err != nil {
		t.Fatalf("DecodeRegion() error: %v", err)
	}
	if tile.Rect.Dx() != 16 || tile.Rect.Dy() != 16 {
		t.Errorf("expected 16x16 tile, got %v", tile.Rect)
	}

	if _, err := d.DecodeRegion(context.Background(), image.Rect(0, 0, 8, 8), 1).Wait(context.Background()); err != nil {
		t.Fatalf("second DecodeRegion() error: %v", err)
	}

	warnings := 0
	for _, e := range log.Entries() {
		if e.Key == "Falling back to %s backend for region %v" {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("expected one fallback warning, got %d", warnings)
	}

	d.Recycle()
	if d.IsReady() {
		t.Error("expected not ready after Recycle")
	}
	_, err = d.DecodeRegion(context.Background(), image.Rect(0, 0, 8, 8), 1).Wait(context.Background())
	if !errors.Is(err, regionerr.ErrNotInitialized) {
		t.Errorf("DecodeRegion() after Recycle error = %v, want ErrNotInitialized", err)
	}
	if fs.StillOpen() != 0 {
		t.Error("source stream left open")
	}
}

func TestDecoder_WithoutFallbackReportsDecodeFailed(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.AddFile("/deep.png", encodePNG(t, image.NewGray16(image.Rect(0, 0, 8, 8))))

	d, _, err := New(newOptions(t, fs, mocks.NewLogger()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	host := mocks.NewHost("com.example.viewer")
	if _, err := d.Init(context.Background(), host, "file:///deep.png").Wait(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	_, err = d.DecodeRegion(context.Background(), image.Rect(0, 0, 8, 8), 1).Wait(context.Background())
	if !errors.Is(err, regionerr.ErrDecodeFailed) {
		t.Errorf("DecodeRegion() error = %v, want ErrDecodeFailed", err)
	}
}

func TestDecoder_OtherErrorsDoNotFallBack(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.AddFile("/a.png", encodePNG(t, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	log := mocks.NewLogger()

	opts := newOptions(t, fs, log)
	opts.Fallback = true
	d, _, _ := New(opts)
	host := mocks.NewHost("com.example.viewer")
	if _, err := d.Init(context.Background(), host, "file:///a.png").Wait(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	_, err := d.DecodeRegion(context.Background(), image.Rect(0, 0, 9, 9), 1).Wait(context.Background())
	if !errors.Is(err, regionerr.ErrInvalidRegion) {
		t.Errorf("DecodeRegion() error = %v, want ErrInvalidRegion", err)
	}
	if log.HasKey(ports.LevelWarn, "Falling back to %s backend for region %v") {
		t.Error("invalid region must not trigger fallback")
	}
}

// decodedRegions returns the "Decoding region" messages logged by component,
// in execution order.
func decodedRegions(log *mocks.Logger, component string) []string {
	var out []string
	for _, e := range log.Entries() {
		if e.Component == component && e.Key == "Decoding region %v at sample size %d" {
			out = append(out, e.Message)
		}
	}
	return out
}

func submitInOrder(t *testing.T, d *Decoder, n int) []string {
	t.Helper()
	ctx := context.Background()
	tasks := make([]*async.Task[*pixfmt.RGB565], n)
	want := make([]string, n)
	for i := range tasks {
		rect := image.Rect(0, 0, i+1, 1)
		tasks[i] = d.DecodeRegion(ctx, rect, 1)
		want[i] = fmt.Sprintf("Decoding region %v at sample size %d", rect, 1)
	}
	for i, task := range tasks {
		if _, err := task.Wait(ctx); err != nil {
			t.Fatalf("DecodeRegion(%d) error: %v", i, err)
		}
	}
	return want
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d decodes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("decode %d ran %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecoder_FallbackKeepsSubmissionOrder(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.AddFile("/wide.png", encodePNG(t, image.NewRGBA(image.Rect(0, 0, 64, 1))))
	log := mocks.NewLogger()

	opts := newOptions(t, fs, log)
	opts.Fallback = true
	d, _, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer d.Recycle()

	host := mocks.NewHost("com.example.viewer")
	if _, err := d.Init(context.Background(), host, "file:///wide.png").Wait(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	want := submitInOrder(t, d, 60)
	assertOrder(t, decodedRegions(log, nativedecoder.BackendName), want)
}

func TestDecoder_SwitchedFallbackKeepsSubmissionOrder(t *testing.T) {
	fs := mocks.NewFileSystem()
	fs.AddFile("/deep.png", encodePNG(t, image.NewGray16(image.Rect(0, 0, 64, 1))))
	log := mocks.NewLogger()

	opts := newOptions(t, fs, log)
	opts.Fallback = true
	d, _, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer d.Recycle()

	ctx := context.Background()
	host := mocks.NewHost("com.example.viewer")
	if _, err := d.Init(ctx, host, "file:///deep.png").Wait(ctx); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if _, err := d.DecodeRegion(ctx, image.Rect(0, 0, 64, 1), 1).Wait(ctx); err != nil {
		t.Fatalf("first DecodeRegion() error: %v", err)
	}

	want := submitInOrder(t, d, 40)
	got := decodedRegions(log, imagingdecoder.BackendName)
	if len(got) == 0 {
		t.Fatal("fallback never decoded")
	}
	assertOrder(t, got[1:], want)
}
