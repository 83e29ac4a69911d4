package value

import "golang.org/x/crypto/sha3"

// Sha3Identifier is the collision-resistant id(v) a real deployment uses: the
// SHA3-256 digest of the Value's raw bytes. It is the production counterpart
// to the toy crc32-based identifiers the seeded scenarios use for
// determinism, grounded on the teacher's block.ComputeHash.
type Sha3Identifier struct{}

// ID returns the SHA3-256 digest of v.
func (Sha3Identifier) ID(v Value) ID {
	return sha3.Sum256([]byte(v))
}
