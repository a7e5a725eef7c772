package consensus

import "github.com/budlum/core/crypto"

// MerkleRoot builds the duplicate-last binary Merkle tree over an ordered
// list of 32-byte leaf hashes. An empty list returns the
// all-zero constant. Each level pairs adjacent hashes left-to-right; an odd
// trailing hash is paired with itself. Parent = H(left ‖ right).
func MerkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return zeroHash
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			buf := make([]byte, 0, 64)
			buf = append(buf, left[:]...)
			buf = append(buf, right[:]...)
			next = append(next, crypto.H(buf))
		}
		level = next
	}
	return level[0]
}
