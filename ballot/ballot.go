// Package ballot generates and decodes the 64-bit totally ordered ballot
// values used both as winner tokens (FAA/TAS) and as Paxos ballot numbers
// (LL/SC): (timestamp_us << 16) | node_id.
package ballot

import "time"

// Generate returns a fresh ballot for nodeID, re-reading the wall clock on
// every call. A microsecond reading of exactly zero is mapped to 1 so the
// ballot is never zero (zero is the "empty slot" sentinel).
func Generate(nodeID uint16) uint64 {
	ts := uint64(time.Now().UnixMicro()) & 0xFFFFFFFFFFFF
	if ts == 0 {
		ts = 1
	}
	return (ts << 16) | uint64(nodeID)
}

// Owner extracts the low-16-bit node id from a ballot.
func Owner(b uint64) uint16 {
	return uint16(b & 0xFFFF)
}

// Timestamp extracts the 48-bit microsecond timestamp from a ballot.
func Timestamp(b uint64) uint64 {
	return b >> 16
}

// Less reports whether a sorts strictly before b in ballot order. Ballots
// are compared as plain uint64s: the timestamp occupies the high bits, so
// this is equivalent to comparing (timestamp, node_id) lexicographically.
func Less(a, b uint64) bool {
	return a < b
}
