// Package attachment routes attachment URIs to the source that serves
// their scheme. Backends live in the s3, gcs, cached and otel subpackages.
package attachment

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rbaliyan/campusmail/store"
)

// Router implements store.AttachmentSource by dispatching on URI scheme.
type Router struct {
	sources map[string]store.AttachmentSource
}

var _ store.AttachmentSource = (*Router)(nil)

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{sources: make(map[string]store.AttachmentSource)}
}

// Handle registers src for scheme, replacing any previous source.
func (r *Router) Handle(scheme string, src store.AttachmentSource) *Router {
	r.sources[strings.ToLower(scheme)] = src
	return r
}

// Len returns the number of registered schemes.
func (r *Router) Len() int {
	return len(r.sources)
}

// Open dispatches uri to the source registered for its scheme.
func (r *Router) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%w: attachment uri %q has no scheme", store.ErrInvalidArgument, uri)
	}
	src, ok := r.sources[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: no attachment source for scheme %q", store.ErrInvalidArgument, scheme)
	}
	return src.Open(ctx, uri)
}
