// Package message defines the tagged-variant wire messages exchanged by the
// consensus core (PROPOSAL/PREVOTE/PRECOMMIT and their self-delivered
// timeouts), and the per-(height,round) log and quorum tally over them.
//
// The source algorithm passes heterogeneously-typed records through one
// handler dispatch (see Design Notes). Here that becomes a sum type: a small
// Message interface implemented by each concrete payload, type-switched on
// in a single on_message dispatch (Decode switches on Kind).
package message

import (
	"fmt"

	"github.com/tendercore/tendercore/value"
)

// Kind distinguishes the concrete Message payloads.
type Kind uint8

// The six message kinds the core understands. The three timeout kinds are
// self-delivered only; a well-behaved bus never routes them between peers.
const (
	KindPropose Kind = iota
	KindPrevote
	KindPrecommit
	KindProposalTimeout
	KindPrevoteTimeout
	KindPrecommitTimeout
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindPropose:
		return "PROPOSAL"
	case KindPrevote:
		return "PREVOTE"
	case KindPrecommit:
		return "PRECOMMIT"
	case KindProposalTimeout:
		return "PROPOSAL_TIMEOUT"
	case KindPrevoteTimeout:
		return "PREVOTE_TIMEOUT"
	case KindPrecommitTimeout:
		return "PRECOMMIT_TIMEOUT"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// A Message is any of the six payloads below. Kind reports which one, so
// callers can type-switch without a reflection-based dispatch.
type Message interface {
	Kind() Kind
	GetHeight() value.Height
	GetRound() value.Round
}

// Propose is broadcast by the designated proposer of (Height, Round). It is
// the only message that carries the full Value; votes carry only its ID.
type Propose struct {
	Sender     value.NodeID
	Height     value.Height
	Round      value.Round
	Value      value.Value
	ValidRound value.Round // -1 unless the proposer is re-proposing a ValidValue
}

// Kind implements Message.
func (p Propose) Kind() Kind { return KindPropose }

// GetHeight implements Message.
func (p Propose) GetHeight() value.Height { return p.Height }

// GetRound implements Message.
func (p Propose) GetRound() value.Round { return p.Round }

// Equal reports whether two Propose messages carry the same content.
func (p Propose) Equal(other Propose) bool {
	return p.Sender == other.Sender &&
		p.Height == other.Height &&
		p.Round == other.Round &&
		p.Value.Equal(other.Value) &&
		p.ValidRound == other.ValidRound
}

// Vote is the shared shape of PREVOTE and PRECOMMIT: a sender's opinion of
// the Value ID at (Height, Round), or value.NilID for ⊥.
type Vote struct {
	Sender value.NodeID
	Height value.Height
	Round  value.Round
	ID     value.ID
}

// Equal reports whether two Votes carry the same content.
func (v Vote) Equal(other Vote) bool {
	return v.Sender == other.Sender &&
		v.Height == other.Height &&
		v.Round == other.Round &&
		v.ID.Equal(other.ID)
}

// Prevote is broadcast once a replica has decided its opinion of the
// current round's proposal.
type Prevote Vote

// Kind implements Message.
func (v Prevote) Kind() Kind { return KindPrevote }

// GetHeight implements Message.
func (v Prevote) GetHeight() value.Height { return v.Height }

// GetRound implements Message.
func (v Prevote) GetRound() value.Round { return v.Round }

// Equal reports whether two Prevotes carry the same content.
func (v Prevote) Equal(other Prevote) bool { return Vote(v).Equal(Vote(other)) }

// Precommit is broadcast once a replica observes a prevote quorum.
type Precommit Vote

// Kind implements Message.
func (v Precommit) Kind() Kind { return KindPrecommit }

// GetHeight implements Message.
func (v Precommit) GetHeight() value.Height { return v.Height }

// GetRound implements Message.
func (v Precommit) GetRound() value.Round { return v.Round }

// Equal reports whether two Precommits carry the same content.
func (v Precommit) Equal(other Precommit) bool { return Vote(v).Equal(Vote(other)) }

// timeoutMsg is the shared shape of the three self-delivered timeouts.
type timeoutMsg struct {
	Height value.Height
	Round  value.Round
}

// GetHeight implements Message.
func (t timeoutMsg) GetHeight() value.Height { return t.Height }

// GetRound implements Message.
func (t timeoutMsg) GetRound() value.Round { return t.Round }

// ProposalTimeout fires when a replica has waited too long for a proposal.
type ProposalTimeout struct{ timeoutMsg }

// Kind implements Message.
func (ProposalTimeout) Kind() Kind { return KindProposalTimeout }

// NewProposalTimeout constructs a ProposalTimeout tagged with (h, r).
func NewProposalTimeout(h value.Height, r value.Round) ProposalTimeout {
	return ProposalTimeout{timeoutMsg{Height: h, Round: r}}
}

// PrevoteTimeout fires when a replica has waited too long for a prevote
// quorum.
type PrevoteTimeout struct{ timeoutMsg }

// Kind implements Message.
func (PrevoteTimeout) Kind() Kind { return KindPrevoteTimeout }

// NewPrevoteTimeout constructs a PrevoteTimeout tagged with (h, r).
func NewPrevoteTimeout(h value.Height, r value.Round) PrevoteTimeout {
	return PrevoteTimeout{timeoutMsg{Height: h, Round: r}}
}

// PrecommitTimeout fires when a replica has waited too long for a precommit
// quorum.
type PrecommitTimeout struct{ timeoutMsg }

// Kind implements Message.
func (PrecommitTimeout) Kind() Kind { return KindPrecommitTimeout }

// NewPrecommitTimeout constructs a PrecommitTimeout tagged with (h, r).
func NewPrecommitTimeout(h value.Height, r value.Round) PrecommitTimeout {
	return PrecommitTimeout{timeoutMsg{Height: h, Round: r}}
}
