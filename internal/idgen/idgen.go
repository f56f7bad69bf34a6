// Package idgen generates the content-derived branded ids used throughout
// Stoneforge (grammar: el-[0-9a-z]{3,8}, lowercase base36).
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	// Prefix is prepended to every generated element id.
	Prefix = "el-"

	minLength = 3
	maxLength = 8

	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateHashID derives a deterministic id from the content that
// distinguishes two otherwise-similar elements: title, description,
// creator, and creation time. nonce lets a caller request another
// candidate when the first collides with an existing id (see
// GenerateUnique). length must be between 3 and 8.
func GenerateHashID(title, description, creator string, createdAt time.Time, length int, nonce int) string {
	if length < minLength {
		length = minLength
	}
	if length > maxLength {
		length = maxLength
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d", title, description, creator, createdAt.UnixNano(), nonce)
	sum := h.Sum(nil)

	n := new(big.Int).SetBytes(sum)
	base := big.NewInt(int64(len(base36Alphabet)))
	var sb strings.Builder
	for sb.Len() < length {
		mod := new(big.Int)
		n.DivMod(n, base, mod)
		sb.WriteByte(base36Alphabet[mod.Int64()])
		if n.Sign() == 0 {
			// Re-seed from the hash tail so short requested lengths don't
			// degenerate into runs of the same low-order digit.
			n.SetBytes(sum)
			next := sha256.Sum256(sum)
			sum = next[:]
		}
	}
	return Prefix + sb.String()
}

// Exists is satisfied by any lookup a caller has for "does this id
// already resolve to an element" (e.g. a store's Get).
type Exists func(id string) (bool, error)

// GenerateUnique calls GenerateHashID with increasing nonces until exists
// reports no collision, or maxAttempts is exhausted (in which case it
// falls back to a longer id derived from the same content; once the
// maximum length is exhausted too, it returns an error).
func GenerateUnique(title, description, creator string, createdAt time.Time, length, maxAttempts int, exists Exists) (string, error) {
	for nonce := 0; nonce < maxAttempts; nonce++ {
		id := GenerateHashID(title, description, creator, createdAt, length, nonce)
		ok, err := exists(id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
	}
	if length < maxLength {
		return GenerateUnique(title, description, creator, createdAt, length+1, maxAttempts, exists)
	}
	return "", fmt.Errorf("idgen: exhausted %d attempts at max length %d without a unique id", maxAttempts, maxLength)
}

// ChildID derives a dependent id for a sub-element of parentID (e.g. a
// document version tuple key) using a parentID-dot-counter convention.
func ChildID(parentID string, counter int) string {
	return fmt.Sprintf("%s.%d", parentID, counter)
}
