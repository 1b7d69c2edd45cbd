package uid

import (
	"math/big"

	"github.com/google/uuid"
)

// Alphabet excludes visually ambiguous symbols (0, O, 1, I, l).
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Length is the number of symbols needed to carry a full 128-bit uuid in Alphabet.
const Length = 22

var base = big.NewInt(int64(len(Alphabet)))

// Generate returns prefix followed by a random token.
// Uniqueness is probabilistic; callers owning a collection must still check for collisions.
func Generate(prefix string) string {
	return prefix + encode(uuid.New())
}

func encode(id uuid.UUID) string {
	n := new(big.Int).SetBytes(id[:])
	mod := new(big.Int)

	buf := make([]byte, Length)
	for i := Length - 1; i >= 0; i-- {
		n.DivMod(n, base, mod)
		buf[i] = Alphabet[mod.Int64()]
	}
	return string(buf)
}

// Valid reports whether s looks like a token produced by Generate with the given prefix.
func Valid(s, prefix string) bool {
	if len(s) != len(prefix)+Length || s[:len(prefix)] != prefix {
		return false
	}
	for i := len(prefix); i < len(s); i++ {
		if !hasChar(Alphabet, s[i]) {
			return false
		}
	}
	return true
}

func hasChar(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return true
		}
	}
	return false
}
