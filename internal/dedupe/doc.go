// Package dedupe remembers client request ids so a retransmitted request is
// applied at most once within a configurable window. Cache serves a single
// gateway process; RedisDeduper is shared by every instance behind a relay.
package dedupe
