// Package router dispatches decoded requests by method and normalized path.
package router

import (
	"sync"

	"github.com/apoxy-dev/howdy/pkg/http1"
)

type route struct {
	method  http1.Method
	path    string
	handler http1.Handler
}

// Router is an http1.Handler that selects a registered handler by exact
// method and path match, falling back to a default handler.
type Router struct {
	mu       sync.RWMutex
	routes   []route
	fallback http1.Handler
}

// New returns a Router that serves unmatched requests with fallback.
// A nil fallback answers unmatched requests with 404.
func New(fallback http1.Handler) *Router {
	return &Router{fallback: fallback}
}

// Attach registers h for method and path. The path is normalized the same
// way request targets are, and any query is ignored. A later registration
// for the same method and path replaces the earlier one.
func (r *Router) Attach(method http1.Method, path string, h http1.Handler) {
	p := http1.NormalizePath(path).Path

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.routes {
		if r.routes[i].method == method && r.routes[i].path == p {
			r.routes[i].handler = h
			return
		}
	}
	r.routes = append(r.routes, route{method: method, path: p, handler: h})
}

// Match returns the handler registered for method and path.
func (r *Router) Match(method http1.Method, path string) (http1.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.method == method && rt.path == path {
			return rt.handler, true
		}
	}
	return nil, false
}

func (r *Router) ServeRequest(req *http1.Request) http1.Response {
	if h, ok := r.Match(req.Method, req.Resource.Path); ok {
		return h.ServeRequest(req)
	}
	if r.fallback != nil {
		return r.fallback.ServeRequest(req)
	}
	return http1.Response{Status: http1.StatusNotFound}
}
