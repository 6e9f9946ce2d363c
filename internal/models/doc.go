// Package models defines the domain entities of the video publishing pipeline.
//
// The package contains three groups of types:
//
// 1. Job types: what a publish request carries and how its progress is reported
//   - [PublishJob] : Immutable request consumed once by the queue worker
//   - [JobStatus] : Per-session state polled by clients
//   - [Overlay] : Optional image or video composited on top of the still
//
// 2. Capacity types: the usage ledger backing the credential pool
//   - [UsageRecord] : Monthly upload counter, connected flags and channel activity for one credential
//   - [LedgerState] : All usage records keyed by credential id
//
// 3. Registry types: channels and automation progress
//   - [Channel] : A destination channel owned by exactly one credential
//   - [Account] : A connected account as reported by the publishing API
//   - [AutomationCycle] : Round-robin position of one user
package models
