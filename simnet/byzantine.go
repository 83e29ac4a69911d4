package simnet

import (
	"math/rand"

	"github.com/tendercore/tendercore/message"
	"github.com/tendercore/tendercore/value"
)

// injectTo exposes Network's internal scheduling to Byzantine drivers in this
// package, which inject scripted or adversarial messages directly onto the
// bus rather than running an honest consensus.Replica underneath.
func (n *Network) injectTo(to value.NodeID, msg message.Message) {
	n.enqueue(to, msg, n.Now())
}

// SendProposal delivers a PROPOSAL from "from" to exactly the nodes in to,
// bypassing the normal all-to-all Broadcast. This is how a Byzantine
// proposer equivocates: two disjoint halves of the committee, each
// receiving a distinct, internally-consistent proposal (§8 scenario S5).
func SendProposal(net *Network, from value.NodeID, to []value.NodeID, height value.Height, round value.Round, v value.Value, validRound value.Round) {
	msg := message.Propose{Sender: from, Height: height, Round: round, Value: v, ValidRound: validRound}
	for _, t := range to {
		net.injectTo(t, msg)
	}
}

// SendPrevote delivers a PREVOTE from "from" to exactly the nodes in to.
func SendPrevote(net *Network, from value.NodeID, to []value.NodeID, height value.Height, round value.Round, id value.ID) {
	msg := message.Prevote{Sender: from, Height: height, Round: round, ID: id}
	for _, t := range to {
		net.injectTo(t, msg)
	}
}

// SendPrecommit delivers a PRECOMMIT from "from" to exactly the nodes in to.
func SendPrecommit(net *Network, from value.NodeID, to []value.NodeID, height value.Height, round value.Round, id value.ID) {
	msg := message.Precommit{Sender: from, Height: height, Round: round, ID: id}
	for _, t := range to {
		net.injectTo(t, msg)
	}
}

// EquivocatingProposer scripts exactly one round of §8 scenario S5: it
// proposes distinct valid values to two disjoint halves of the honest
// committee, along with matching prevotes and precommits for each half, so
// neither half alone can reach a 2f+1 quorum.
type EquivocatingProposer struct {
	Self       value.NodeID
	HalfA      []value.NodeID
	HalfB      []value.NodeID
	Identifier value.Identifier
}

// Propose sends valueA to HalfA and valueB to HalfB for (height, round), then
// follows up with matching self-prevotes and self-precommits to each half so
// the equivocation looks internally consistent to its victims.
func (e EquivocatingProposer) Propose(net *Network, height value.Height, round value.Round, valueA, valueB value.Value) {
	SendProposal(net, e.Self, e.HalfA, height, round, valueA, value.InvalidRound)
	SendProposal(net, e.Self, e.HalfB, height, round, valueB, value.InvalidRound)
	SendPrevote(net, e.Self, e.HalfA, height, round, e.Identifier.ID(valueA))
	SendPrevote(net, e.Self, e.HalfB, height, round, e.Identifier.ID(valueB))
	SendPrecommit(net, e.Self, e.HalfA, height, round, e.Identifier.ID(valueA))
	SendPrecommit(net, e.Self, e.HalfB, height, round, e.Identifier.ID(valueB))
}

// RandomVoteDriver is a Byzantine committee member (§8 scenario S6) that,
// every time it is stepped, casts a fresh random-looking prevote and
// precommit to the whole committee at whatever (height, round) it is told,
// preventing any single id from ever accumulating a quorum. It never
// proposes, and each vote's id is read from Rng; it does not check for
// repeats, so two drivers built on identically-seeded sources cast the same
// ids.
type RandomVoteDriver struct {
	Self      value.NodeID
	Committee []value.NodeID
	Rng       *rand.Rand
}

// Step casts one random prevote and one random precommit for (height, round)
// to the entire committee.
func (d RandomVoteDriver) Step(net *Network, height value.Height, round value.Round) {
	var prevote, precommit value.ID
	d.Rng.Read(prevote[:])
	d.Rng.Read(precommit[:])
	SendPrevote(net, d.Self, d.Committee, height, round, prevote)
	SendPrecommit(net, d.Self, d.Committee, height, round, precommit)
}
