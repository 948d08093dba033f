package oshost

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/subscale/pkg/adapters/logger"
	"github.com/user/subscale/pkg/adapters/osfilesystem"
	"github.com/user/subscale/pkg/mocks"
	"github.com/user/subscale/pkg/ports"
	"github.com/user/subscale/pkg/regionerr"
)

const table = `resources:
  - id: 10
    type: drawable
    name: poster
    file: poster.bin
  - id: 11
    type: raw
    name: escape
    file: ../outside.bin
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newHost(t *testing.T) (*Host, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "res", "com.example.viewer", ResourceTableName), table)
	writeFile(t, filepath.Join(root, "res", "com.example.viewer", "poster.bin"), "poster")
	writeFile(t, filepath.Join(root, "res", "com.example.maps", ResourceTableName), "resources:\n  - {id: 3, type: drawable, name: map, file: map.bin}\n")
	writeFile(t, filepath.Join(root, "res", "com.example.maps", "map.bin"), "map")
	writeFile(t, filepath.Join(root, "assets", "tiles", "world.bin"), "world")

	h := New(Config{
		PackageName:  "com.example.viewer",
		ResourceRoot: filepath.Join(root, "res"),
		AssetRoot:    filepath.Join(root, "assets"),
	}, osfilesystem.New(), logger.NewNoop())
	return h, root
}

func read(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestHost_OwnResources(t *testing.T) {
	h, _ := newHost(t)

	res := h.Resources()
	id := res.Identifier("poster", "drawable", "com.example.viewer")
	if id != 10 {
		t.Fatalf("Identifier() = %d, want 10", id)
	}
	rc, err := res.OpenRawResource(id)
	if err != nil {
		t.Fatalf("OpenRawResource() error: %v", err)
	}
	if got := read(t, rc); got != "poster" {
		t.Errorf("content = %q", got)
	}

	if res.Identifier("missing", "drawable", "com.example.viewer") != 0 {
		t.Error("expected 0 for an unknown name")
	}
	if _, err := res.OpenRawResource(99); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("OpenRawResource(99) error = %v", err)
	}
	if _, err := res.OpenRawResource(11); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("OpenRawResource(11) error = %v, want ErrInvalidPath", err)
	}
}

func TestHost_OwnResourcesLoadFailureIsLogged(t *testing.T) {
	tests := []struct {
		name    string
		content string
		level   ports.LogLevel
		key     string
	}{
		{"malformed table", "resources: [id: 1\n", ports.LevelWarn, "Failed to load resources for %s: %s"},
		{"missing table", "", ports.LevelDebug, "No resource table for %s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if tt.content != "" {
				writeFile(t, filepath.Join(root, "com.example.viewer", ResourceTableName), tt.content)
			}
			log := mocks.NewLogger()
			h := New(Config{PackageName: "com.example.viewer", ResourceRoot: root}, osfilesystem.New(), log)

			res := h.Resources()
			if res.Identifier("poster", "drawable", "com.example.viewer") != 0 {
				t.Error("expected an empty resource table")
			}
			if !log.HasKey(tt.level, tt.key) {
				t.Errorf("expected %s log %q, got %+v", tt.level, tt.key, log.Entries())
			}
		})
	}
}

func TestHost_OtherPackage(t *testing.T) {
	h, _ := newHost(t)

	res, err := h.PackageManager().ResourcesForApplication("com.example.maps")
	if err != nil {
		t.Fatalf("ResourcesForApplication() error: %v", err)
	}
	rc, err := res.OpenRawResource(res.Identifier("map", "drawable", "com.example.maps"))
	if err != nil {
		t.Fatalf("OpenRawResource() error: %v", err)
	}
	if got := read(t, rc); got != "map" {
		t.Errorf("content = %q", got)
	}

	for _, pkg := range []string{"com.example.none", "../res", ""} {
		if _, err := h.ResourcesForApplication(pkg); !errors.Is(err, regionerr.ErrPackageNotFound) {
			t.Errorf("ResourcesForApplication(%q) error = %v, want ErrPackageNotFound", pkg, err)
		}
	}
}

func TestHost_Assets(t *testing.T) {
	h, _ := newHost(t)

	f, err := h.Assets().Open("tiles/world.bin")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if got := read(t, f); got != "world" {
		t.Errorf("content = %q", got)
	}

	for _, name := range []string{"../res/com.example.viewer/poster.bin", "/etc/passwd", "tiles/../../x"} {
		if _, err := h.Assets().Open(name); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Open(%q) error = %v, want ErrInvalidPath", name, err)
		}
	}
}

func TestHost_ContentResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/image.bin" {
			w.Write([]byte("remote"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := New(Config{HTTPClient: srv.Client()}, osfilesystem.New(), nil)

	u, _ := url.Parse(srv.URL + "/image.bin")
	rc, err := h.ContentResolver().OpenInputStream(context.Background(), u)
	if err != nil {
		t.Fatalf("OpenInputStream() error: %v", err)
	}
	if got := read(t, rc); got != "remote" {
		t.Errorf("content = %q", got)
	}

	u, _ = url.Parse(srv.URL + "/missing")
	if _, err := h.ContentResolver().OpenInputStream(context.Background(), u); err == nil {
		t.Error("expected error for 404")
	}

	u, _ = url.Parse("content://media/external/1")
	if _, err := h.ContentResolver().OpenInputStream(context.Background(), u); !errors.Is(err, ErrNoProvider) {
		t.Errorf("content scheme error = %v, want ErrNoProvider", err)
	}
}

func TestHost_ContentResolverHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	h := New(Config{HTTPClient: srv.Client()}, osfilesystem.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u, _ := url.Parse(srv.URL)
	if _, err := h.ContentResolver().OpenInputStream(ctx, u); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
