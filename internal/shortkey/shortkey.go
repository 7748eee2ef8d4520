// Package shortkey encodes record identifiers into the short keys handed out
// to clients, and decodes them back.
//
// A short key is prefix + base62(id) + suffix, where prefix and suffix are the
// two halves of the record's 4-character random salt. The salt keeps small,
// sequential ids from being trivially enumerable.
package shortkey

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// PrefixLen is the number of salt characters placed before the encoded id.
	PrefixLen = 2
	// SuffixLen is the number of salt characters placed after the encoded id.
	SuffixLen = 2
	// SaltLen is the full salt length stored alongside each record.
	SaltLen = PrefixLen + SuffixLen
	// MinLen is the shortest possible key: the salt plus one base62 digit.
	MinLen = PrefixLen + 1 + SuffixLen
)

// alphabet is the base62 digit set, in ascending digit order.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = uint64(len(alphabet))

// Encode builds the short key for id using salt.
// The salt is expected to be SaltLen ASCII alphanumeric characters; shorter
// salts are split as far as they go.
func Encode(salt string, id uint64) string {
	prefix, suffix := salt, ""
	if len(salt) >= PrefixLen {
		prefix = salt[:PrefixLen]
		suffix = salt[PrefixLen:min(len(salt), SaltLen)]
	}

	var sb strings.Builder
	sb.Grow(len(prefix) + 11 + len(suffix))
	sb.WriteString(prefix)
	sb.WriteString(ToBase62(id))
	sb.WriteString(suffix)
	return sb.String()
}

// Decode splits key into its id and salt. ok is false when the key is shorter
// than MinLen, contains non-ASCII bytes, or its middle segment is not a base62
// number that fits in 64 bits.
func Decode(key string) (id uint64, salt string, ok bool) {
	if len(key) < MinLen || !isASCII(key) {
		return 0, "", false
	}

	prefix := key[:PrefixLen]
	suffix := key[len(key)-SuffixLen:]

	id, ok = FromBase62(key[PrefixLen : len(key)-SuffixLen])
	if !ok {
		return 0, "", false
	}
	return id, prefix + suffix, true
}

// ToBase62 renders n with the base62 alphabet. Zero encodes as "0".
func ToBase62(n uint64) string {
	if n == 0 {
		return alphabet[:1]
	}

	var buf [11]byte // 62^11 > 2^64
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

// FromBase62 parses s as a base62 number. It rejects empty input, characters
// outside the alphabet, and values that overflow uint64.
func FromBase62(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}

	var n uint64
	for i := 0; i < len(s); i++ {
		d, ok := digit(s[i])
		if !ok {
			return 0, false
		}
		if n > (^uint64(0)-d)/base {
			return 0, false
		}
		n = n*base + d
	}
	return n, true
}

// GenerateSalt returns a fresh SaltLen-character alphanumeric salt drawn from
// crypto/rand.
func GenerateSalt() (string, error) {
	salt := make([]byte, SaltLen)
	for i := range salt {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random salt: %w", err)
		}
		salt[i] = alphabet[num.Int64()]
	}
	return string(salt), nil
}

// IsAlphanumeric reports whether every byte of s is an ASCII letter or digit.
func IsAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if _, ok := digit(s[i]); !ok {
			return false
		}
	}
	return true
}

func digit(c byte) (uint64, bool) {
	switch {
	case c >= '0' && c <= '9':
		return uint64(c - '0'), true
	case c >= 'A' && c <= 'Z':
		return uint64(c-'A') + 10, true
	case c >= 'a' && c <= 'z':
		return uint64(c-'a') + 36, true
	}
	return 0, false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
