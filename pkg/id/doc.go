// Package id provides a 128-bit, lexicographically sortable identifier.
//
// The bus uses it to name worker processes (so log lines and gossip peers
// can be told apart) and to key waiters in the registry.
//
// # Format
//
// 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence]. Byte-wise
// comparison preserves chronological order; IDs minted in the same
// millisecond are ordered by sequence.
//
// # Monotonicity
//
// The Generator never goes backwards: on clock regression it pins to the last
// seen millisecond and keeps incrementing the sequence; on sequence overflow
// it waits for the next millisecond.
//
// Usage
//
//	g := id.NewGenerator()
//	worker := g.Next()
//	fmt.Println(worker.Short(), worker.Time())
package id
