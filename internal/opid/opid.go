// Package opid derives 32-bit operation ids from function names.
package opid

import "hash/fnv"

// ForName hashes a function's textual name to its operation id. The hash is
// stable across processes; both sides of a call derive the id from the same
// name. Collisions are possible and are rejected at registration time.
func ForName(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}
