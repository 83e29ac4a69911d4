package consensus

import (
	"fmt"

	"github.com/tendercore/tendercore/value"
)

// Step is the phase within a (height, round): propose, prevote, or
// precommit. Steps only ever advance propose -> prevote -> precommit
// within a round (invariant I5); StartRound is the only place a Step
// resets backward, and it always resets to Propose for a new round.
type Step int

// The three steps of a round.
const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
)

// String implements fmt.Stringer.
func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

// State holds the process-local variables of the paper: the current
// (height, round, step), the locked/valid value-and-round bookkeeping, and
// the append-only decision log. It is isolated from Replica so it can be
// inspected, logged, or snapshotted independently of the replica's
// collaborators.
type State struct {
	Height value.Height
	Round  value.Round
	Step   Step

	// LockedValue/LockedRound: the value (and round) this replica has
	// precommitted. Cleared to (nil, -1) on decision.
	LockedValue value.Value
	LockedRound value.Round

	// ValidValue/ValidRound: the latest value for which this replica has
	// observed a prevote quorum certificate. Cleared to (nil, -1) on
	// decision.
	ValidValue value.Value
	ValidRound value.Round

	decisions map[value.Height]value.Value
}

// NewState returns a State starting at startHeight with an empty decision
// log and no lock/valid bookkeeping.
func NewState(startHeight value.Height) State {
	return State{
		Height:      startHeight,
		Round:       0,
		Step:        StepPropose,
		LockedValue: value.NilValue,
		LockedRound: value.InvalidRound,
		ValidValue:  value.NilValue,
		ValidRound:  value.InvalidRound,
		decisions:   map[value.Height]value.Value{},
	}
}

// resetLockAndValid clears the lock/valid bookkeeping, as happens on every
// decision (§4.2.8/§4.2.9 of the specification).
func (s *State) resetLockAndValid() {
	s.LockedValue = value.NilValue
	s.LockedRound = value.InvalidRound
	s.ValidValue = value.NilValue
	s.ValidRound = value.InvalidRound
}

// Decision returns the decided Value at height, if any. decision is
// append-only: once set for a height it is never changed (invariant I1,
// enforced by the decision rule only ever writing decisions[Height] for the
// replica's current Height, which then advances).
func (s *State) Decision(height value.Height) (value.Value, bool) {
	v, ok := s.decisions[height]
	return v, ok
}

func (s *State) setDecision(height value.Height, v value.Value) {
	s.decisions[height] = v
}
