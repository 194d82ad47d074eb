package utils

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

func HashStringToUint64(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Fingerprint hashes the parts joined with "|" and renders the result as 16
// hex digits. It is a change detector, not a security primitive.
func Fingerprint(parts ...string) string {
	h := xxhash.Sum64String(strings.Join(parts, "|"))
	s := strconv.FormatUint(h, 16)
	return strings.Repeat("0", 16-len(s)) + s
}
