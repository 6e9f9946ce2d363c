// Package slots decides which pool credential backs a platform connection.
//
// Every credential can hold one connected channel per platform and has a monthly upload quota.
// The [Pool] owns the usage ledger; the [Allocator] hands out connect URLs with admission control
// and displacement; the [IdleReaper] frees platforms whose channels have gone quiet.
//
// # Admission
//
// A credential is a candidate for platform P when it is under quota and not connected for P.
// Candidates are tried in pool order. A remote "already connected" answer means the local flag
// was stale: the flag is set, persisted, and the next candidate is tried.
//
// # Displacement
//
// With no candidate left, the allocator looks at credentials that still have quota and picks the
// one whose most recent activity on P is oldest. A connected credential with no recorded activity
// counts as active right now. If even the oldest activity is within the grace period the caller
// gets [shared.ErrAllAccountsBusy] and nothing is disconnected. Otherwise P is disconnected on that
// credential and it alone is retried. With no quota anywhere the caller gets [shared.ErrNoCapacity].
//
// # Reconciliation
//
// The channel registry records which credential owns each remote account. When a scan finds an
// account under a credential other than its recorded owner, the recorded owner is the older
// connection: its platform is disconnected and ownership moves to the scanning credential.
package slots
