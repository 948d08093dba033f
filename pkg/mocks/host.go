package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/user/subscale/pkg/ports"
)

// Host is a mock implementation of ports.HostContext backed by in-memory
// resources, assets and streams. Every collaborator counts opens and closes.
type Host struct {
	mu sync.Mutex

	Package   string
	Own       *Resources
	Others    map[string]*Resources
	AssetFS   *FileSystem
	Content   *ContentResolver
	Lookups   []string
	LookupErr error
}

// NewHost creates a mock host for packageName with empty stores.
func NewHost(packageName string) *Host {
	return &Host{
		Package: packageName,
		Own:     NewResources(),
		Others:  make(map[string]*Resources),
		AssetFS: NewFileSystem(),
		Content: NewContentResolver(),
	}
}

func (h *Host) PackageName() string { return h.Package }

func (h *Host) Resources() ports.Resources { return h.Own }

func (h *Host) PackageManager() ports.PackageManager { return h }

func (h *Host) Assets() ports.AssetManager { return assetManager{fs: h.AssetFS} }

func (h *Host) ContentResolver() ports.ContentResolver { return h.Content }

// ResourcesForApplication implements ports.PackageManager.
func (h *Host) ResourcesForApplication(packageName string) (ports.Resources, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Lookups = append(h.Lookups, packageName)
	if h.LookupErr != nil {
		return nil, h.LookupErr
	}
	res, ok := h.Others[packageName]
	if !ok {
		return nil, fmt.Errorf("package not installed: %s", packageName)
	}
	return res, nil
}

// StillOpen sums the streams that were opened but not closed across all
// collaborators.
func (h *Host) StillOpen() int {
	n := h.Own.StillOpen() + h.AssetFS.StillOpen() + h.Content.StillOpen()
	for _, res := range h.Others {
		n += res.StillOpen()
	}
	return n
}

type assetManager struct {
	fs *FileSystem
}

func (a assetManager) Open(name string) (ports.File, error) {
	return a.fs.Open(name)
}

// Resources is a mock implementation of ports.Resources.
type Resources struct {
	mu     sync.Mutex
	ids    map[string]int
	data   map[int][]byte
	counts counter

	Opened []int

	OpenRawResourceFunc func(id int) (io.ReadCloser, error)
}

// NewResources creates an empty resource table.
func NewResources() *Resources {
	return &Resources{
		ids:  make(map[string]int),
		data: make(map[int][]byte),
	}
}

// Add registers a resource (for test setup).
func (r *Resources) Add(id int, resourceType, name string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[resourceType+"/"+name] = id
	r.data[id] = data
}

func (r *Resources) Identifier(name, resourceType, packageName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids[resourceType+"/"+name]
}

func (r *Resources) OpenRawResource(id int) (io.ReadCloser, error) {
	r.mu.Lock()
	r.Opened = append(r.Opened, id)
	r.mu.Unlock()

	if r.OpenRawResourceFunc != nil {
		return r.OpenRawResourceFunc(id)
	}

	r.mu.Lock()
	data, ok := r.data[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("resource not found: %d", id)
	}
	return r.counts.wrap(data), nil
}

// StillOpen returns how many resource streams have not been closed.
func (r *Resources) StillOpen() int {
	return r.counts.stillOpen()
}

// OpenedIDs returns the ids passed to OpenRawResource (for test verification).
func (r *Resources) OpenedIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.Opened...)
}

// ContentResolver is a mock implementation of ports.ContentResolver.
type ContentResolver struct {
	mu      sync.Mutex
	streams map[string][]byte
	counts  counter

	Requests []string

	OpenInputStreamFunc func(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}

// NewContentResolver creates a resolver with no content.
func NewContentResolver() *ContentResolver {
	return &ContentResolver{streams: make(map[string][]byte)}
}

// Add registers content for a URI (for test setup).
func (c *ContentResolver) Add(uri string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[uri] = data
}

func (c *ContentResolver) OpenInputStream(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, u.String())
	c.mu.Unlock()

	if c.OpenInputStreamFunc != nil {
		return c.OpenInputStreamFunc(ctx, u)
	}

	c.mu.Lock()
	data, ok := c.streams[u.String()]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no content for %s", u)
	}
	return c.counts.wrap(data), nil
}

// StillOpen returns how many streams have not been closed.
func (c *ContentResolver) StillOpen() int {
	return c.counts.stillOpen()
}

// RequestedURIs returns every URI passed to OpenInputStream.
func (c *ContentResolver) RequestedURIs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Requests...)
}

// counter tracks streams handed out by a mock.
type counter struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (c *counter) wrap(data []byte) io.ReadCloser {
	c.mu.Lock()
	c.opened++
	c.mu.Unlock()
	return &trackedReader{Reader: bytes.NewReader(data), c: c}
}

func (c *counter) stillOpen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened - c.closed
}

type trackedReader struct {
	*bytes.Reader
	c    *counter
	once sync.Once
}

func (r *trackedReader) Close() error {
	r.once.Do(func() {
		r.c.mu.Lock()
		r.c.closed++
		r.c.mu.Unlock()
	})
	return nil
}

var (
	_ ports.HostContext     = (*Host)(nil)
	_ ports.Resources       = (*Resources)(nil)
	_ ports.ContentResolver = (*ContentResolver)(nil)
)
