package ports

import (
	"context"
	"io"
	"net/url"
)

// HostContext abstracts the environment a decoder resolves locators in.
type HostContext interface {
	// PackageName returns the name of the package the caller belongs to.
	PackageName() string

	// Resources returns the caller's own resource table.
	Resources() Resources

	// PackageManager resolves the resource tables of other packages.
	PackageManager() PackageManager

	// Assets returns the bundled asset store.
	Assets() AssetManager

	// ContentResolver opens generic stream URIs.
	ContentResolver() ContentResolver
}

// Resources is a package's resource table.
type Resources interface {
	// Identifier returns the numeric id of the named resource, or 0 if the
	// package has no such resource.
	Identifier(name, resourceType, packageName string) int

	// OpenRawResource opens the raw bytes of the resource with the given id.
	OpenRawResource(id int) (io.ReadCloser, error)
}

// PackageManager looks up packages other than the caller's.
type PackageManager interface {
	// ResourcesForApplication returns the resource table of packageName.
	ResourcesForApplication(packageName string) (Resources, error)
}

// AssetManager opens bundled assets.
type AssetManager interface {
	// Open opens the named asset for random access.
	Open(name string) (File, error)
}

// ContentResolver opens URIs that are neither files, assets nor resources.
type ContentResolver interface {
	// OpenInputStream opens the content behind u.
	OpenInputStream(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}
