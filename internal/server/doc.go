// Package server exposes the publishing pipeline over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [MuxRouter] implements it
// on gorilla/mux so handlers can read path variables. [Middleware] wraps handlers in reverse order
// (last added executes first). Each [Handler] owns its [Route] list and is registered in one call.
//
// # Endpoints
//
//	POST   /api/sessions                     create an empty session
//	POST   /api/sessions/{session}/audio     append an audio part (multipart "file")
//	PUT    /api/sessions/{session}/image     set the still image
//	PUT    /api/sessions/{session}/overlay   set the overlay media and geometry
//	POST   /api/jobs                         enqueue a publish job
//	GET    /api/jobs/{session}               poll a job's status
//	GET    /api/connect/{platform}           get an authorization URL from the slot allocator
//	GET    /api/connect/callback             finish a connect flow
//	GET    /api/channels                     rescan every credential and list channels
//	DELETE /api/channels/{id}                forget a channel
//	GET    /api/pool                         slot usage report (json, csv, md or txt)
//	GET    /health, /metrics
//
// Allocator refusals are 503 responses whose code is "busy" (with Retry-After) or
// "no_capacity", so clients can tell a short wait from an exhausted month.
//
// # Connect Callback
//
// [ConnectCallback] validates the single-use state token attached to every connect URL,
// rescans the credential that gained the connection, and reports the outcome on a channel
// that the CLI waits on.
package server
