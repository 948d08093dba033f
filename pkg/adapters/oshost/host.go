// Package oshost implements ports.HostContext on a directory layout and an
// HTTP client.
//
// Packages live under ResourceRoot, one directory per package name, each with
// a resources.yaml table:
//
//	resources:
//	  - id: 1
//	    type: drawable
//	    name: poster
//	    file: poster.jpg
//
// Assets live under AssetRoot. Stream locators with an http or https scheme
// are fetched with the configured client.
package oshost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/user/subscale/pkg/adapters/logger"
	"github.com/user/subscale/pkg/ports"
	"github.com/user/subscale/pkg/regionerr"
)

// ResourceTableName is the file listing a package's resources.
const ResourceTableName = "resources.yaml"

var (
	// ErrResourceNotFound is returned when a resource id is not in the table.
	ErrResourceNotFound = errors.New("oshost: resource not found")

	// ErrNoProvider is returned for stream schemes the host cannot open.
	ErrNoProvider = errors.New("oshost: no content provider for scheme")

	// ErrInvalidPath is returned for asset names or resource files that
	// escape their root.
	ErrInvalidPath = errors.New("oshost: invalid path")
)

// Config configures a Host.
type Config struct {
	PackageName  string
	ResourceRoot string
	AssetRoot    string
	HTTPClient   *http.Client
}

// Host is a ports.HostContext backed by the local filesystem.
type Host struct {
	cfg    Config
	fs     ports.FileSystem
	logger ports.Logger

	mu       sync.Mutex
	packages map[string]*Resources
}

// New creates a host.
func New(cfg Config, fs ports.FileSystem, log ports.Logger) *Host {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNoop()
	}
	return &Host{
		cfg:      cfg,
		fs:       fs,
		logger:   log.WithComponent("oshost"),
		packages: make(map[string]*Resources),
	}
}

// PackageName returns the configured package.
func (h *Host) PackageName() string {
	return h.cfg.PackageName
}

// Resources returns the configured package's resources. A package without a
// resource table has no resources; a table that cannot be read or parsed is
// logged and treated the same way.
func (h *Host) Resources() ports.Resources {
	res, err := h.load(h.cfg.PackageName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.logger.Debug("No resource table for %s", h.cfg.PackageName)
		} else {
			h.logger.Warn("Failed to load resources for %s: %s", h.cfg.PackageName, err.Error())
		}
		return &Resources{dir: h.packageDir(h.cfg.PackageName), fs: h.fs}
	}
	return res
}

// PackageManager returns the host itself.
func (h *Host) PackageManager() ports.PackageManager {
	return h
}

// ResourcesForApplication loads the resource table of another package.
func (h *Host) ResourcesForApplication(packageName string) (ports.Resources, error) {
	res, err := h.load(packageName)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Assets returns the asset store.
func (h *Host) Assets() ports.AssetManager {
	return assets{root: h.cfg.AssetRoot, fs: h.fs}
}

// ContentResolver returns the HTTP-backed content resolver.
func (h *Host) ContentResolver() ports.ContentResolver {
	return contentResolver{client: h.cfg.HTTPClient, logger: h.logger}
}

func (h *Host) packageDir(packageName string) string {
	return filepath.Join(h.cfg.ResourceRoot, packageName)
}

func (h *Host) load(packageName string) (*Resources, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if res, ok := h.packages[packageName]; ok {
		return res, nil
	}
	if packageName == "" || !filepath.IsLocal(packageName) {
		return nil, fmt.Errorf("%w: %w: %q", regionerr.ErrPackageNotFound, ErrInvalidPath, packageName)
	}

	dir := h.packageDir(packageName)
	data, err := h.fs.ReadFile(filepath.Join(dir, ResourceTableName))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", regionerr.ErrPackageNotFound, packageName, err)
	}

	var table resourceTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse %s for %s: %w", ResourceTableName, packageName, err)
	}

	res := &Resources{
		dir:     dir,
		fs:      h.fs,
		byID:    make(map[int]resourceEntry, len(table.Resources)),
		byName:  make(map[string]int, len(table.Resources)),
		pkgName: packageName,
	}
	for _, e := range table.Resources {
		if e.ID == 0 {
			continue
		}
		res.byID[e.ID] = e
		res.byName[e.Type+"/"+e.Name] = e.ID
	}
	h.packages[packageName] = res
	return res, nil
}

type resourceTable struct {
	Resources []resourceEntry `yaml:"resources"`
}

type resourceEntry struct {
	ID   int    `yaml:"id"`
	Type string `yaml:"type"`
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

// Resources is one package's resource table.
type Resources struct {
	dir     string
	fs      ports.FileSystem
	pkgName string
	byID    map[int]resourceEntry
	byName  map[string]int
}

// Identifier returns the id of the named resource, or 0.
func (r *Resources) Identifier(name, resourceType, packageName string) int {
	if packageName != "" && r.pkgName != "" && packageName != r.pkgName {
		return 0
	}
	return r.byName[resourceType+"/"+name]
}

// OpenRawResource opens the file behind id.
func (r *Resources) OpenRawResource(id int) (io.ReadCloser, error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrResourceNotFound, id)
	}
	if !filepath.IsLocal(e.File) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, e.File)
	}
	return r.fs.Open(filepath.Join(r.dir, e.File))
}

type assets struct {
	root string
	fs   ports.FileSystem
}

func (a assets) Open(name string) (ports.File, error) {
	if strings.Contains(name, "..") || !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return a.fs.Open(filepath.Join(a.root, filepath.FromSlash(name)))
}

type contentResolver struct {
	client *http.Client
	logger ports.Logger
}

func (c contentResolver) OpenInputStream(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, u.Scheme)
	}

	c.logger.Debug("Fetching %s", u.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u.String(), resp.Status)
	}
	return resp.Body, nil
}

var (
	_ ports.HostContext    = (*Host)(nil)
	_ ports.PackageManager = (*Host)(nil)
	_ ports.Resources      = (*Resources)(nil)
)
