// Package board is the authoritative side of board synchronization.
//
// A Coordinator receives decoded request envelopes from connections and turns
// each one into exactly one outcome message. Requests are validated before any
// store access, gated through the permission gate, applied through
// store.BoardStore and then routed by the room registry.
//
// A board key belongs to the project of the first request allowed to change
// it. Later mutations from another project scope are denied, and task details
// on another project's board read as not found.
//
// Outcomes are routed as follows:
//
//   - join, get-board and get-task-detail reply to the requester only.
//   - create-container, delete-container and create-task multicast success to
//     the board's room and reply failures to the requester.
//   - reorder-containers and reorder-task multicast both success and failure,
//     so every client holding the optimistic change can revert it together.
//
// Every outcome echoes the request id it answers. Mutating request ids are
// remembered by a dedupe.Deduper so a retransmitted request is applied once;
// an id whose request failed internally is forgotten again so it can be
// retried.
//
// Concurrent reorder-containers requests on one board are last-commit-wins:
// there is no version column, and the earlier success broadcast may describe
// an order the store no longer holds.
package board
