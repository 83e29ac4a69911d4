// Package value defines the primitive types shared by the consensus core:
// the height/round/step coordinates of an instance, the opaque Value being
// agreed upon, and the fixed-width ID used to refer to a Value without
// resending its full bytes. See https://arxiv.org/pdf/1807.04938.pdf.
package value

import (
	"bytes"
	"fmt"

	"github.com/renproject/id"
)

// Height indexes a consensus instance. Heights only ever increase, and only
// on decision.
type Height int64

// Round is the attempt number within a Height. InvalidRound (-1) is the
// sentinel used for "unset" locked/valid rounds, mirroring the paper's own
// arithmetic comparisons against -1.
type Round int64

// InvalidRound is the sentinel Round meaning "no round recorded yet".
const InvalidRound = Round(-1)

// NodeID identifies a committee member. It is the hash of that member's
// public key, reused from the teacher's identity scheme so that a Value's
// proposer/voter can be named without embedding a full key.
type NodeID = id.Signatory

// Value is the opaque payload ("block") being agreed upon. Validity and
// identity are external concerns (valid(v) and id(v) in the paper); Value
// itself is just bytes.
type Value []byte

// NilValue is the sentinel meaning "no value" (e.g. an unset LockedValue or
// ValidValue). It is distinct from any proposed Value because proposers are
// never permitted to propose an empty Value.
var NilValue = Value(nil)

// Equal reports whether two Values carry the same bytes, including the
// NilValue/NilValue case.
func (v Value) Equal(other Value) bool {
	if v == nil || other == nil {
		return v == nil && other == nil
	}
	return bytes.Equal(v, other)
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%x", []byte(v))
}

// ID is a fixed-width, collision-resistant identifier for a Value (the
// paper's id(v)). It is carried by PREVOTE/PRECOMMIT messages instead of the
// full Value so that votes stay small and comparable.
type ID [32]byte

// NilID is the sentinel ⊥: "no value" in a vote. It is never equal to the ID
// of any real, non-empty Value, because a well-formed Identifier must never
// hash a Value to the all-zero digest. The identifiers in this module do not
// check their output for that collision.
var NilID = ID{}

// Equal reports whether two IDs are the same, including the NilID/NilID case.
func (id ID) Equal(other ID) bool {
	return id == other
}

// IsNil reports whether id is the ⊥ sentinel.
func (id ID) IsNil() bool {
	return id == NilID
}

// String implements fmt.Stringer.
func (id ID) String() string {
	if id.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%x", id[:8])
}

// Identifier computes the ID of a Value (the paper's external collaborator
// id(v), E4). Implementations must be deterministic and must never map a
// non-nil Value onto NilID.
type Identifier interface {
	ID(Value) ID
}

// Validator decides whether a Value is well-formed (the paper's external
// collaborator valid(v), E3). Replicas are not required to agree on
// validity.
type Validator interface {
	Valid(Value) bool
}

// Proposer produces new Values to propose (the paper's external
// collaborator getValue(), E2).
type Proposer interface {
	Propose(Height, Round) Value
}
