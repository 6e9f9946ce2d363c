// Package services talks to the social publishing API that backs every pool credential.
//
// # Client
//
// [Client] wraps one API key. Requests carry the key as a bearer token through an [oauth2.Transport]
// and are throttled by a [rate.Limiter]. The team id behind the key is fetched once and memoized.
//
// The only remote error that callers classify is [shared.ErrAlreadyConnected], returned when a
// connect request hits a platform the team already has connected. Everything else is wrapped in
// [shared.ErrAPIRequest] with the status code and the API's message.
//
// # Publishers
//
// [Publisher] is the per-platform upload and post contract used by the job queue:
//   - [YouTubePublisher] waits for media processing with bounded polling before posting
//   - [FacebookPublisher] creates its post in a detached goroutine; failures are only logged
package services
