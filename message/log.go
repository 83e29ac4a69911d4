package message

import (
	"github.com/tendercore/tendercore/value"
)

// VoteKind distinguishes a PREVOTE tally from a PRECOMMIT tally. The two
// vote kinds are tracked in separate maps but share identical tally logic.
type VoteKind uint8

// The two vote kinds.
const (
	PrevoteKind VoteKind = iota
	PrecommitKind
)

// String implements fmt.Stringer.
func (k VoteKind) String() string {
	if k == PrecommitKind {
		return "precommit"
	}
	return "prevote"
}

// Reason reports the disposition of a record_proposal/record_vote call. Ok
// means the message was new and has been recorded; every other Reason means
// the message was dropped (see §7 of the specification for the full error
// taxonomy and disposition table).
type Reason uint8

// The dispositions a Log can report.
const (
	Ok Reason = iota
	// DuplicateProposal: the proposer already sent a (possibly different)
	// Propose for this (height, round).
	DuplicateProposal
	// WrongProposer: the sender is not the designated proposer for this
	// (height, round).
	WrongProposer
	// DuplicateVote: the sender already voted (possibly differently) at
	// this (kind, height, round).
	DuplicateVote
)

// Catcher is notified when a conflicting duplicate (an equivocation) is
// dropped; an exact repeat of a recorded message is dropped silently. It
// is a non-fatal, best-effort signal: implementations must not block or
// panic, and a nil Catcher is always safe to use (Log treats it as a no-op).
type Catcher interface {
	CatchDuplicateProposal(height value.Height, round value.Round, existing, attempted Propose)
	CatchDuplicateVote(kind VoteKind, height value.Height, round value.Round, existing, attempted Vote)
}

// Schedule reports the designated proposer for (height, round). It is the
// same round-robin function the consensus core uses (§4.2.12); the Log
// needs it only to reject proposals from the wrong sender.
type Schedule func(value.Height, value.Round) value.NodeID

// Tally is the result of tallying one (kind, height, round) vote set.
type Tally struct {
	// Count is the number of distinct senders recorded so far.
	Count int
	// QC is the ID that first reached a quorum certificate (>= 2f+1
	// identical votes), or nil if no id has yet. A QC, once recorded, never
	// changes: at most one non-nil id can ever reach 2f+1 (2(2f+1) > n), so
	// the first id to cross the threshold is final.
	QC *value.ID
}

type roundKey struct {
	height value.Height
	round  value.Round
}

type voteTally struct {
	byID   map[value.ID]int
	voters map[value.NodeID]value.ID
	qc     *value.ID
}

func newVoteTally() *voteTally {
	return &voteTally{
		byID:   map[value.ID]int{},
		voters: map[value.NodeID]value.ID{},
	}
}

// Log is the per-replica message log and quorum tally (component C1): it
// records PROPOSAL/PREVOTE/PRECOMMIT messages keyed by (height, round) and
// answers quorum queries over them. A Log is not safe for concurrent use
// (the consensus core that owns it runs single-threaded, run-to-completion).
type Log struct {
	f        int
	schedule Schedule
	catcher  Catcher

	proposals  map[roundKey]Propose
	prevotes   map[roundKey]*voteTally
	precommits map[roundKey]*voteTally
}

// NewLog returns an empty Log for a committee that tolerates f Byzantine
// faults. schedule reports the designated proposer of any (height, round);
// catcher (may be nil) is notified of equivocation. A quorum certificate
// requires 2f+1 identical votes.
func NewLog(f int, schedule Schedule, catcher Catcher) *Log {
	return &Log{
		f:          f,
		schedule:   schedule,
		catcher:    catcher,
		proposals:  map[roundKey]Propose{},
		prevotes:   map[roundKey]*voteTally{},
		precommits: map[roundKey]*voteTally{},
	}
}

// quorum is the 2f+1 threshold.
func (l *Log) quorum() int { return 2*l.f + 1 }

// RecordProposal records a Propose from sender, rejecting a second Propose
// for the same (height, round) and any Propose from a non-designated
// sender.
func (l *Log) RecordProposal(height value.Height, round value.Round, sender value.NodeID, val value.Value, validRound value.Round) Reason {
	key := roundKey{height, round}
	if expected := l.schedule(height, round); expected != sender {
		return WrongProposer
	}
	if existing, ok := l.proposals[key]; ok {
		attempted := Propose{Sender: sender, Height: height, Round: round, Value: val, ValidRound: validRound}
		if !existing.Equal(attempted) && l.catcher != nil {
			l.catcher.CatchDuplicateProposal(height, round, existing, attempted)
		}
		return DuplicateProposal
	}
	l.proposals[key] = Propose{Sender: sender, Height: height, Round: round, Value: val, ValidRound: validRound}
	return Ok
}

// Proposal returns the Propose recorded at (height, round), if any.
func (l *Log) Proposal(height value.Height, round value.Round) (Propose, bool) {
	p, ok := l.proposals[roundKey{height, round}]
	return p, ok
}

// RecordVote records a vote of the given kind from sender, rejecting a
// second vote from the same sender at the same (kind, height, round).
func (l *Log) RecordVote(kind VoteKind, height value.Height, round value.Round, sender value.NodeID, id value.ID) Reason {
	key := roundKey{height, round}
	table := l.prevotes
	if kind == PrecommitKind {
		table = l.precommits
	}
	tally, ok := table[key]
	if !ok {
		tally = newVoteTally()
		table[key] = tally
	}
	if existingID, ok := tally.voters[sender]; ok {
		if existingID != id && l.catcher != nil {
			existing := Vote{Sender: sender, Height: height, Round: round, ID: existingID}
			attempted := Vote{Sender: sender, Height: height, Round: round, ID: id}
			l.catcher.CatchDuplicateVote(kind, height, round, existing, attempted)
		}
		return DuplicateVote
	}
	tally.voters[sender] = id
	tally.byID[id]++
	if tally.qc == nil && tally.byID[id] >= l.quorum() {
		idCopy := id
		tally.qc = &idCopy
	}
	return Ok
}

// Tally reports the current vote count and quorum certificate (if any) for
// (kind, height, round).
func (l *Log) Tally(kind VoteKind, height value.Height, round value.Round) Tally {
	table := l.prevotes
	if kind == PrecommitKind {
		table = l.precommits
	}
	tally, ok := table[roundKey{height, round}]
	if !ok {
		return Tally{}
	}
	return Tally{Count: len(tally.voters), QC: tally.qc}
}

// VoteCount is shorthand for Tally(...).Count.
func (l *Log) VoteCount(kind VoteKind, height value.Height, round value.Round) int {
	return l.Tally(kind, height, round).Count
}

// MessageCount returns the number of distinct (proposal-or-vote) senders
// recorded at (height, round), across all three message kinds. This backs
// the round-skip rule (§4.2.10), which counts "any-kind messages ... from
// distinct senders".
func (l *Log) MessageCount(height value.Height, round value.Round) int {
	key := roundKey{height, round}
	senders := map[value.NodeID]struct{}{}
	if p, ok := l.proposals[key]; ok {
		senders[p.Sender] = struct{}{}
	}
	if t, ok := l.prevotes[key]; ok {
		for sender := range t.voters {
			senders[sender] = struct{}{}
		}
	}
	if t, ok := l.precommits[key]; ok {
		for sender := range t.voters {
			senders[sender] = struct{}{}
		}
	}
	return len(senders)
}
