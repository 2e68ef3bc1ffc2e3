// Package reconciler keeps a client's optimistic copy of one board.
//
// Local edits are applied to the mirror immediately and recorded as pending
// operations keyed by the request id sent to the gateway. Each gateway
// message is then merged with Apply:
//
//   - A success answering one of our operations commits it.
//   - A failure answering one of our operations schedules a revert after
//     RevertDelay.
//   - Anyone else's success is merged idempotently; their failures change
//     nothing because nothing of them was applied locally.
//
// Every write to the mirror is stamped from a local clock. A revert restores
// an entity only when the rejected operation was the last thing to write it,
// so a newer local edit or a newer update from another client is never
// clobbered.
//
// Room multicasts carry a per-board sequence number. A duplicate is dropped
// and a gap marks the mirror for resync; the caller then fetches a snapshot
// with get-board and hands it to Load. Sweep also asks for a resync when an
// operation has gone unanswered for longer than PendingTimeout.
package reconciler
