package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// MuxRouter implements [Router] on a [mux.Router], so path variables like {session} are available
// through [mux.Vars].
type MuxRouter struct {
	mux         *mux.Router
	middlewares []Middleware
}

// NewMuxRouter creates a new [MuxRouter] instance.
func NewMuxRouter() *MuxRouter {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return &MuxRouter{mux: r}
}

// Use adds [Middleware] to the router, applied in the order it's added.
//
// Middleware only wraps routes registered after the call.
func (r *MuxRouter) Use(middleware ...Middleware) {
	r.middlewares = append(r.middlewares, middleware...)
}

// Handle registers a handler for the specified HTTP method and path, wrapped with all registered middleware.
func (r *MuxRouter) Handle(method, path string, handler http.Handler) {
	r.mux.Handle(path, r.Apply(handler)).Methods(method)
}

// Handler registers every route of a custom [Handler].
func (r *MuxRouter) Handler(handler Handler) {
	for _, route := range handler.Routes() {
		r.Handle(route.Method, route.Path, route.Handler)
	}
}

// ServeHTTP implements [http.Handler] for the entire router.
func (r *MuxRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Apply wraps a handler with all registered middleware.
//
// Middleware is applied in reverse order (last added wraps first).
func (r *MuxRouter) Apply(handler http.Handler) http.Handler {
	wrapped := handler

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}

	return wrapped
}
