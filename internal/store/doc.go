// Package store provides persistent storage for the board gateway using SQLite.
//
// # Architecture
//
// Two interfaces split the storage surface:
//
//   - BoardStore: containers and tasks of a board, scoped by board key, plus
//     the binding of each board key to its project scope
//   - IdentityStore: users, sessions, project memberships and role grants
//
// SQLiteStore implements both in a single struct. MockStore is an in-memory
// implementation with the same ordering and not-found semantics for unit
// tests of the coordinator and gate.
//
// # Ordering
//
// Containers carry an integer order that is unique per board. New containers
// get max(order)+1, computed inside the INSERT so concurrent creators never
// receive the same value. Snapshots list tasks by their container's order,
// then due date, creation time and uuid.
//
// # Transactions
//
// ReorderContainers runs inside an explicit transaction: every listed
// container is updated or none is. DeleteContainer checks, removes tasks and
// removes the container in one transaction. Snapshot reads through a read transaction
// so containers and tasks come from the same committed state.
//
// # SQLite Configuration
//
// File databases are opened with these pragmas on every pooled connection:
//
//	foreign_keys(1)
//	busy_timeout(5000)
//	journal_mode(WAL)
//
// Use NewSQLiteStore(":memory:") for throwaway databases; the pool is pinned
// to one connection so every query sees the same database.
//
// # Error Handling
//
//   - ErrNotFound: the entity (or its container on the same board) does not exist
//   - ErrDuplicate: a key is taken, or a reorder would collide two orders
//   - ErrWrongProject: a board key is already bound to another project
package store
