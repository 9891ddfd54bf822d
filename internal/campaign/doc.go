// Package campaign owns broadcast lifecycles: the persistent scheduler that
// arms one in-process timer per pending broadcast, and the controller that
// operators talk to.
//
// # Crash safety
//
// "Durable row exists" and "timer armed" are two halves of one invariant.
// Every scheduled row in the store has exactly one armed timer in the live
// process; the two are reconciled only by Recover(), which runs once at
// startup before any new scheduling request is accepted. Overdue rows found
// during recovery fire immediately instead of being dropped.
//
// # Cancellation
//
// Cancel is idempotent and safe to race against a firing: it invalidates the
// timer handle, deletes the durable row while it is still scheduled, and
// best-effort cancels an in-flight fan-out. Deliveries already issued cannot
// be recalled, and a broadcast that already went out reports not-found
// rather than losing its terminal row.
package campaign
