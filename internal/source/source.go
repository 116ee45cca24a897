// Package source opens remote compressed objects and manifests.
//
// A source is either an HTTP base URL, where object names are appended as
// path segments, or any bucket URL understood by gocloud.dev/blob
// (file://, mem://, s3://, gs://). Bucket drivers are registered by blank
// imports in the binary.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	assethttp "github.com/ligustah/assetsync/internal/http"
	"github.com/ligustah/assetsync/internal/retry"
	"github.com/ligustah/assetsync/pkg/manifest"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("source: object not found")

// Object is an open remote object.
type Object struct {
	Body io.ReadCloser
	Size int64 // -1 if unknown
}

// Source opens objects by name.
type Source interface {
	Open(ctx context.Context, name string) (*Object, error)
	String() string
	Close() error
}

// Open returns a Source for rawURL.
func Open(ctx context.Context, rawURL string, httpOpts assethttp.Options) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("source: parse url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTP(rawURL, httpOpts), nil
	case "":
		return nil, fmt.Errorf("source: url %q has no scheme", rawURL)
	}

	bucket, err := blob.OpenBucket(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("source: open bucket: %w", err)
	}
	return &BucketSource{bucket: bucket, url: rawURL, owned: true}, nil
}

// HTTPSource fetches objects from base/<name>.
type HTTPSource struct {
	base   string
	client *assethttp.Client
}

// NewHTTP returns a source rooted at base.
func NewHTTP(base string, opts assethttp.Options) *HTTPSource {
	return &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		client: assethttp.NewClient(opts),
	}
}

// Open implements Source.
func (s *HTTPSource) Open(ctx context.Context, name string) (*Object, error) {
	u, err := url.JoinPath(s.base, strings.Split(name, "/")...)
	if err != nil {
		return nil, fmt.Errorf("source: build url for %s: %w", name, err)
	}

	resp, err := s.client.Get(ctx, u)
	if err != nil {
		if errors.Is(err, assethttp.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("source: get %s: %w", name, err)
	}
	return &Object{Body: resp.Body, Size: resp.ContentLength}, nil
}

func (s *HTTPSource) String() string {
	return s.base
}

// Close implements Source.
func (s *HTTPSource) Close() error {
	return nil
}

// BucketSource reads objects from a gocloud bucket.
type BucketSource struct {
	bucket *blob.Bucket
	url    string
	owned  bool
}

// NewBucket wraps an already opened bucket. Close does not close it.
func NewBucket(bucket *blob.Bucket) *BucketSource {
	return &BucketSource{bucket: bucket, url: "bucket"}
}

// Open implements Source.
func (s *BucketSource) Open(ctx context.Context, name string) (*Object, error) {
	r, err := s.bucket.NewReader(ctx, name, nil)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case gcerrors.Code(err) == gcerrors.NotFound:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		case gcerrors.Code(err) == gcerrors.PermissionDenied, gcerrors.Code(err) == gcerrors.InvalidArgument:
			return nil, fmt.Errorf("source: open %s: %w", name, err)
		}
		return nil, retry.Mark(retry.Network, fmt.Errorf("source: open %s: %w", name, err))
	}
	return &Object{Body: r, Size: r.Size()}, nil
}

func (s *BucketSource) String() string {
	return s.url
}

// Close implements Source.
func (s *BucketSource) Close() error {
	if s.owned {
		return s.bucket.Close()
	}
	return nil
}

// FetchManifest opens and decodes the manifest object name, retrying
// transient failures under policy.
func FetchManifest(ctx context.Context, src Source, name string, policy retry.Policy) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	err := policy.Do(ctx, func(ctx context.Context) error {
		obj, err := src.Open(ctx, name)
		if err != nil {
			return err
		}
		defer obj.Body.Close()

		data, err := io.ReadAll(obj.Body)
		if err != nil {
			return retry.Mark(retry.Network, fmt.Errorf("source: read manifest: %w", err))
		}

		m, err = manifest.Decode(bytes.NewReader(data))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	return m, nil
}
