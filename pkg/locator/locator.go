// Package locator parses the URI-like strings that name an image source.
package locator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/user/subscale/pkg/regionerr"
)

// Recognised prefixes. AssetPrefix must be checked before FilePrefix.
const (
	ResourcePrefix = "android.resource://"
	FilePrefix     = "file://"
	AssetPrefix    = FilePrefix + "/android_asset/"
)

// Kind classifies a locator by the strategy used to read it.
type Kind int

const (
	// KindStream is any other well-formed URI, read through a content resolver.
	KindStream Kind = iota
	// KindResource is a packaged resource, by numeric id or drawable name.
	KindResource
	// KindAsset is a bundled asset.
	KindAsset
	// KindFile is a local filesystem path.
	KindFile
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindResource:
		return "resource"
	case KindAsset:
		return "asset"
	case KindFile:
		return "file"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Classify maps a locator string to its Kind by prefix. Every string has
// exactly one kind.
func Classify(s string) Kind {
	switch {
	case strings.HasPrefix(s, ResourcePrefix):
		return KindResource
	case strings.HasPrefix(s, AssetPrefix):
		return KindAsset
	case strings.HasPrefix(s, FilePrefix):
		return KindFile
	default:
		return KindStream
	}
}

// Locator is a parsed, immutable image source identifier.
type Locator struct {
	raw  string
	kind Kind
	u    *url.URL
}

// Parse classifies s and parses the parts its kind needs. File and asset
// locators keep the text after the prefix verbatim (no percent-decoding).
func Parse(s string) (Locator, error) {
	if s == "" {
		return Locator{}, fmt.Errorf("%w: empty locator", regionerr.ErrSourceUnavailable)
	}

	loc := Locator{raw: s, kind: Classify(s)}

	switch loc.kind {
	case KindAsset:
		if loc.AssetName() == "" {
			return Locator{}, fmt.Errorf("%w: asset locator %q has no name", regionerr.ErrSourceUnavailable, s)
		}
	case KindFile:
		if loc.FilePath() == "" {
			return Locator{}, fmt.Errorf("%w: file locator %q has no path", regionerr.ErrSourceUnavailable, s)
		}
	case KindResource, KindStream:
		u, err := url.Parse(s)
		if err != nil {
			return Locator{}, fmt.Errorf("%w: parse %q: %w", regionerr.ErrSourceUnavailable, s, err)
		}
		if loc.kind == KindStream && u.Scheme == "" {
			return Locator{}, fmt.Errorf("%w: locator %q has no scheme", regionerr.ErrSourceUnavailable, s)
		}
		loc.u = u
	}

	return loc, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Locator {
	loc, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return loc
}

// String returns the original locator text.
func (l Locator) String() string {
	return l.raw
}

// Kind returns the locator's classification.
func (l Locator) Kind() Kind {
	return l.kind
}

// Package returns the authority of a resource locator, which names the
// owning package. Empty for other kinds.
func (l Locator) Package() string {
	if l.kind != KindResource || l.u == nil {
		return ""
	}
	return l.u.Host
}

// PathSegments returns the non-empty path segments of a resource locator.
func (l Locator) PathSegments() []string {
	if l.kind != KindResource || l.u == nil {
		return nil
	}
	var segments []string
	for _, s := range strings.Split(l.u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// AssetName returns the asset path relative to the asset root.
func (l Locator) AssetName() string {
	if l.kind != KindAsset {
		return ""
	}
	return strings.TrimPrefix(l.raw, AssetPrefix)
}

// FilePath returns the local path named by a file locator.
func (l Locator) FilePath() string {
	if l.kind != KindFile {
		return ""
	}
	return strings.TrimPrefix(l.raw, FilePrefix)
}

// URL returns the parsed URL of a stream or resource locator.
func (l Locator) URL() *url.URL {
	if l.u == nil {
		return nil
	}
	u := *l.u
	return &u
}
