// Package repositories implements persistence for the usage ledger, the channel registry and
// automation progress.
//
// Key Implementations:
//   - [DocumentLedger] : Usage ledger stored as one JSON document row, saved in a transaction
//   - [JSONLedger] : Usage ledger stored as a JSON file, written to a temp file and renamed
//   - [ChannelRepository] : Channel ownership keyed by the remote account id
//   - [CycleRepository] : Round-robin position per user
//
// SQL repositories work against sqlite3 or postgres through [shared.Database.Rebind]. Timestamps
// are stored as RFC 3339 text so both drivers read them back the same way.
package repositories
