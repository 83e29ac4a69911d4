package simnet

import (
	"fmt"

	"github.com/tendercore/tendercore/consensus"
	"github.com/tendercore/tendercore/replica"
	"github.com/tendercore/tendercore/value"
)

// Member is one committee member constructed against a shared Network: its
// externally-facing replica.Replica handle plus the identity it was built
// with. Scenarios use Members to drive and inspect individual replicas.
type Member struct {
	ID value.NodeID
	R  *replica.Replica
}

// BuildCommittee constructs a replica.Replica for every member of build
// (n = 3f+1, derived from len(committee) -- the full membership used for
// quorum math, which may exceed build when some members are intentionally
// left un-constructed, e.g. simulated as Byzantine by scripted message
// injection instead of an honest Replica). Each constructed replica is wired
// to net and joined as both its message sink and its state observer.
// collaboratorsFor(i) supplies the per-index collaborators (so callers can
// give every replica a distinct get_value()/Byzantine override), and
// committerFor (may be nil) supplies an optional per-index commit-notify hook.
func BuildCommittee(
	net *Network,
	committee []value.NodeID,
	build []value.NodeID,
	collaboratorsFor func(i int) (value.Proposer, value.Validator, value.Identifier),
	committerFor func(i int) consensus.Committer,
	opts replica.Options,
) ([]Member, error) {
	members := make([]Member, len(build))
	for i, self := range build {
		proposer, validator, identifier := collaboratorsFor(i)
		var committer consensus.Committer
		if committerFor != nil {
			committer = committerFor(i)
		}

		o := opts
		o.Clock = net.Now

		r, err := replica.New(self, committee, 0, net.BusFor(self), proposer, validator, identifier, committer, nil, o)
		if err != nil {
			return nil, fmt.Errorf("building replica %d: %w", i, err)
		}
		net.Join(self, r, r)
		members[i] = Member{ID: self, R: r}
	}
	return members, nil
}

// BootstrapAll calls Bootstrap on every Member. Call this once, after every
// Member has been constructed, before the first Run.
func BootstrapAll(members []Member) {
	for _, m := range members {
		m.R.Bootstrap()
	}
}

// SafetyViolation implements the reference harness's safety_check: across
// every height any joined replica has an opinion on, every replica that has
// decided must agree. It returns a description of the first violation found,
// or "" if none.
func (n *Network) SafetyViolation() string {
	n.mu.Lock()
	maxHeight := value.Height(0)
	for _, obs := range n.observers {
		if h := obs.CurrentHeight(); h > maxHeight {
			maxHeight = h
		}
	}
	n.mu.Unlock()

	for h := value.Height(0); h < maxHeight; h++ {
		decisions := n.Decisions(h)
		var first value.Value
		haveFirst := false
		for id, v := range decisions {
			if !haveFirst {
				first, haveFirst = v, true
				continue
			}
			if !v.Equal(first) {
				return fmt.Sprintf("safety violation at height %v: %q decided by %v, %q decided by another replica", h, v, id, first)
			}
		}
	}
	return ""
}

// LivenessTracker implements the reference harness's liveness_check: given the
// highest height/round it last recorded as its baseline, it reports a stall
// description if no new height has been decided since, once at least
// len(committee) rounds have passed (mirroring the reference
// implementation's requirement that rounds_passed >= len(nodes) before it
// will flag anything, since a single stuck proposer otherwise looks identical
// to a temporary delay).
type LivenessTracker struct {
	lastMaxHeight value.Height
	lastMaxRound  value.Round
}

// Check returns a stall description once >= committeeSize rounds have
// elapsed since the recorded baseline with no new decision, or "" otherwise.
// The baseline starts at (0, 0) and moves to the current maximum height and
// round only on calls where that many rounds have elapsed. Callers
// typically invoke this as the check callback to Network.Run.
func (t *LivenessTracker) Check(n *Network, committeeSize int) string {
	n.mu.Lock()
	maxHeight := value.Height(0)
	maxRound := value.Round(0)
	for _, obs := range n.observers {
		if h := obs.CurrentHeight(); h > maxHeight {
			maxHeight = h
		}
		if r := obs.CurrentRound(); r > maxRound {
			maxRound = r
		}
	}
	n.mu.Unlock()

	roundsPassed := maxRound - t.lastMaxRound
	newHeights := maxHeight - t.lastMaxHeight
	if int64(roundsPassed) < int64(committeeSize) {
		return ""
	}
	defer func() { t.lastMaxHeight, t.lastMaxRound = maxHeight, maxRound }()
	if newHeights == 0 {
		return fmt.Sprintf("liveness stall: no new height decided in %v rounds (stuck at height %v)", roundsPassed, maxHeight)
	}
	return ""
}
