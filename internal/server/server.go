// package server contains middleware & handlers for the publishing web service
package server

import (
	"net/http"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Route is one method and path pattern served by a [Handler].
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Handler groups related endpoints. Implementations own their route definitions.
type Handler interface {
	Routes() []Route
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers every route of a custom Handler
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}
