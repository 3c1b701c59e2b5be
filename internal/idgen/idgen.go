// Package idgen produces short deterministic identifiers for tickets the
// engine generates itself, currently the self-improvement proposals. IDs are
// hashes of the proposal content, so re-analyzing the same audit window
// yields the same ID instead of a fresh duplicate.
package idgen

import (
	"crypto/sha256"
	"math/big"
	"strings"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ProposalPrefix marks IDs of engine-generated improvement proposals.
const ProposalPrefix = "prop"

// EncodeBase36 converts a byte slice to a base36 string of the given length,
// padding with zeros or keeping the least significant digits as needed.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	// Digits come out least significant first.
	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}

	return str
}

// ProposalID derives a stable ID for an improvement proposal from the stage
// it targets and its summary. 5 hash bytes give 40 bits, which base36 spreads
// over 8 characters.
func ProposalID(stage, summary string) string {
	hash := sha256.Sum256([]byte(stage + "|" + summary))
	return ProposalPrefix + "-" + EncodeBase36(hash[:5], 8)
}
