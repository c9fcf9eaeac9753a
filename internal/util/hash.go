// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// IdentityFromName derives a stable 64-bit identity from a human-readable
// endpoint name. The hash is used solely for identification and does not
// need to be reversible.
func IdentityFromName(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.TrimSpace(name)))
	return h.Sum64()
}

// ParseIdentity accepts either a decimal identity or an endpoint name.
// Names are hashed with IdentityFromName.
func ParseIdentity(raw string) uint64 {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return id
	}
	return IdentityFromName(raw)
}
