package server

import (
	"net/http"
	"slices"
	"strings"
	"sync"
)

// BasicRouter dispatches on "METHOD /path" patterns. A path registered under another method
// answers 405 with an Allow header; an unknown path answers 404.
type BasicRouter struct {
	mux   *http.ServeMux
	chain []Middleware

	mu       sync.Mutex
	patterns []string
}

func NewBasicRouter() *BasicRouter {
	return &BasicRouter{mux: http.NewServeMux()}
}

// Use appends middleware. The first one added sees the request first. Middleware only wraps
// handlers registered after the call.
func (r *BasicRouter) Use(middleware ...Middleware) {
	r.chain = append(r.chain, middleware...)
}

// Handle serves handler for method on path. Path wildcards like {id} are read with
// [http.Request.PathValue].
func (r *BasicRouter) Handle(method, path string, handler http.Handler) {
	r.register(strings.ToUpper(method)+" "+path, r.Apply(handler))
}

// Handler mounts h on every pattern it reports from Routes.
func (r *BasicRouter) Handler(h Handler) {
	wrapped := r.Apply(h)
	for _, pattern := range h.Routes() {
		r.register(pattern, wrapped)
	}
}

func (r *BasicRouter) register(pattern string, h http.Handler) {
	r.mu.Lock()
	r.patterns = append(r.patterns, pattern)
	r.mu.Unlock()
	r.mux.Handle(pattern, h)
}

// Routes lists the registered patterns, sorted.
func (r *BasicRouter) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.patterns)
	slices.Sort(out)
	return out
}

func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Apply wraps handler in the middleware chain.
func (r *BasicRouter) Apply(handler http.Handler) http.Handler {
	for _, mw := range slices.Backward(r.chain) {
		handler = mw(handler)
	}
	return handler
}
