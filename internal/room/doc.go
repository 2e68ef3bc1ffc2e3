// Package room tracks which connections are joined to which board.
//
// One room exists per board key. Join, Leave and LeaveAll manage membership;
// Multicast delivers to every member of a board, the sender included, and
// Reply delivers to one member only. Delivery never blocks: each member owns a
// buffered Queue and a full queue drops the message.
//
// Every multicast carries the board's next sequence number. Clients compare
// it with the last number they applied; a repeat is a duplicate and a jump is
// a missed message that calls for a fresh snapshot. Join and WithCurrent run
// their callback with multicasts to the board held back, so the sequence
// number embedded in a snapshot matches the stream that follows it.
//
// With a RedisSequencer and RedisRelay, several gateway instances share one
// sequence per board and see each other's multicasts.
package room
