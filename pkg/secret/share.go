// Package secret implements two-party additive secret sharing over the
// Mersenne prime p = 2^61 - 1. A secret v is split into shares
// (deltaA, deltaB) with deltaA + deltaB = v (mod p); each share on its own
// is uniformly distributed and reveals nothing about v.
package secret

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// Modulus is the prime 2^61 - 1. It fits in int64 with room for a single
// addition of two reduced values, so share arithmetic never overflows.
const Modulus int64 = 1<<61 - 1

var bigModulus = big.NewInt(Modulus)

// Reduce maps v into the canonical range [0, Modulus).
func Reduce(v int64) int64 {
	r := v % Modulus
	if r < 0 {
		r += Modulus
	}
	return r
}

// Add returns (a + b) mod p for a, b already in [0, Modulus).
func Add(a, b int64) int64 {
	return (a + b) % Modulus
}

// Complement returns the share that pairs with deltaA to reconstruct v:
// Reduce(v - deltaA).
func Complement(v, deltaA int64) int64 {
	return Reduce(Reduce(v) - Reduce(deltaA))
}

// Split splits v into two additive shares. The first share is drawn
// uniformly from [0, Modulus) using rnd (crypto/rand.Reader in production);
// node A always receives the random share and node B the complement.
func Split(rnd io.Reader, v int64) (deltaA, deltaB int64, err error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	r, err := rand.Int(rnd, bigModulus)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sample share: %w", err)
	}
	deltaA = r.Int64()
	deltaB = Complement(v, deltaA)
	return deltaA, deltaB, nil
}

// SplitOne splits the constant 1, the contribution of a single ballot.
func SplitOne(rnd io.Reader) (deltaA, deltaB int64, err error) {
	return Split(rnd, 1)
}

// Combine reconstructs the secret from two shares.
func Combine(deltaA, deltaB int64) int64 {
	return Add(Reduce(deltaA), Reduce(deltaB))
}
