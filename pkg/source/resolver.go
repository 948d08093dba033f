// Package source resolves image locators to byte streams.
package source

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/user/subscale/pkg/locator"
	"github.com/user/subscale/pkg/ports"
	"github.com/user/subscale/pkg/regionerr"
)

// drawableType is the resource type used for named resources.
const drawableType = "drawable"

// Resolver turns a locator into a readable stream using the host's
// collaborators. Local files are opened through the filesystem port.
type Resolver struct {
	fs     ports.FileSystem
	logger ports.Logger
}

// NewResolver creates a resolver.
func NewResolver(fs ports.FileSystem, logger ports.Logger) *Resolver {
	return &Resolver{
		fs:     fs,
		logger: logger.WithComponent("resolver"),
	}
}

// Open returns a stream for loc. The caller owns the stream and must close it.
// Every error wraps regionerr.ErrSourceUnavailable.
func (r *Resolver) Open(ctx context.Context, host ports.HostContext, loc locator.Locator) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", regionerr.ErrSourceUnavailable, err)
	}

	r.logger.Debug("Resolving %s as %s", loc.String(), loc.Kind().String())

	switch loc.Kind() {
	case locator.KindResource:
		return r.openResource(host, loc)
	case locator.KindAsset:
		f, err := host.Assets().Open(loc.AssetName())
		if err != nil {
			return nil, fmt.Errorf("%w: open asset %s: %w", regionerr.ErrSourceUnavailable, loc.AssetName(), err)
		}
		return f, nil
	case locator.KindFile:
		if r.fs == nil {
			return nil, fmt.Errorf("%w: no filesystem for %s", regionerr.ErrSourceUnavailable, loc.String())
		}
		f, err := r.fs.Open(loc.FilePath())
		if err != nil {
			return nil, fmt.Errorf("%w: open file %s: %w", regionerr.ErrSourceUnavailable, loc.FilePath(), err)
		}
		return f, nil
	default:
		u := loc.URL()
		if u == nil {
			return nil, fmt.Errorf("%w: locator %s has no URL", regionerr.ErrSourceUnavailable, loc.String())
		}
		rc, err := host.ContentResolver().OpenInputStream(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("%w: open stream %s: %w", regionerr.ErrSourceUnavailable, loc.String(), err)
		}
		if rc == nil {
			return nil, fmt.Errorf("%w: resolver returned no stream for %s", regionerr.ErrSourceUnavailable, loc.String())
		}
		return rc, nil
	}
}

func (r *Resolver) openResource(host ports.HostContext, loc locator.Locator) (io.ReadCloser, error) {
	pkg := loc.Package()

	res := host.Resources()
	if pkg != host.PackageName() {
		r.logger.Debug("Looking up package %s", pkg)
		other, err := host.PackageManager().ResourcesForApplication(pkg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w: %s: %w", regionerr.ErrSourceUnavailable, regionerr.ErrPackageNotFound, pkg, err)
		}
		res = other
	}

	id, err := resourceID(res, pkg, loc.PathSegments())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", regionerr.ErrSourceUnavailable, loc.String(), err)
	}

	r.logger.Debug("Opening resource %d from package %s", id, pkg)
	rc, err := res.OpenRawResource(id)
	if err != nil {
		return nil, fmt.Errorf("%w: open resource %d: %w", regionerr.ErrSourceUnavailable, id, err)
	}
	return rc, nil
}

// resourceID maps the locator path to a resource id. Two shapes are accepted:
// "drawable/<name>" and a single numeric segment.
func resourceID(res ports.Resources, pkg string, segments []string) (int, error) {
	switch {
	case len(segments) == 2 && segments[0] == drawableType:
		id := res.Identifier(segments[1], drawableType, pkg)
		if id == 0 {
			return 0, fmt.Errorf("no drawable named %q", segments[1])
		}
		return id, nil
	case len(segments) == 1:
		id, err := strconv.Atoi(segments[0])
		if err != nil {
			return 0, fmt.Errorf("resource id %q is not numeric", segments[0])
		}
		return id, nil
	default:
		return 0, fmt.Errorf("unrecognised resource path %v", segments)
	}
}
