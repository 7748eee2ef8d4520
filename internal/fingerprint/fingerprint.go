// Package fingerprint derives the deduplication key stored with every link.
package fingerprint

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// Separator joins fields before hashing. The unit separator control byte
// does not occur in URLs, so adjacent fields cannot bleed into each other.
const Separator = "\x1f"

// Len is the length of a rendered fingerprint (128 bits as lowercase hex).
const Len = 32

// Of hashes the ordered fields with XXH3-128 and returns 32 lowercase hex
// characters. Absent fields should be passed as "".
func Of(fields ...string) string {
	h := xxh3.HashString128(strings.Join(fields, Separator))
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}
