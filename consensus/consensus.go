// Package consensus implements the Replica State Machine (component C2):
// the round/step progression, locked/valid bookkeeping, quorum accounting,
// the proposer-override rule, precommit finalization, and timeout
// scheduling described by the Tendermint consensus algorithm
// (https://arxiv.org/pdf/1807.04938.pdf).
//
// A Replica is a deterministic finite state automaton driven entirely by
// its single OnMessage entry point. It is not safe for concurrent use: all
// methods must be called by the same goroutine (run-to-completion, §5 of
// the specification).
package consensus

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tendercore/tendercore/message"
	"github.com/tendercore/tendercore/value"
)

// Scheduler is used to determine which replica should be proposing a Value
// at the given (Height, Round). It must be derived solely from (Height,
// Round) so that every correct replica computes the same answer (§4.2.12).
type Scheduler interface {
	Schedule(value.Height, value.Round) value.NodeID
}

// RoundRobin is the flat, unweighted Scheduler of §4.2.12:
// proposer(h, r) = (h + r) mod n. The paper's own presentation uses "r mod
// n"; either is a valid, stable choice, and this is the one this module
// commits to (see DESIGN.md).
type RoundRobin struct {
	Committee []value.NodeID
}

// Schedule implements Scheduler.
func (rr RoundRobin) Schedule(height value.Height, round value.Round) value.NodeID {
	n := len(rr.Committee)
	idx := (int64(height) + int64(round)) % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return rr.Committee[idx]
}

// Broadcaster sends PROPOSAL/PREVOTE/PRECOMMIT messages to every replica in
// the committee, including this one (self-delivery is expected to loop back
// through the bus into OnMessage, not to be synthesized locally -- see
// DESIGN.md).
type Broadcaster interface {
	BroadcastPropose(value.Height, value.Round, value.Value, value.Round)
	BroadcastPrevote(value.Height, value.Round, value.ID)
	BroadcastPrecommit(value.Height, value.Round, value.ID)
}

// Timer is the Replica's view of the Timeout Scheduler Client (C3).
// timeout.Client satisfies this interface.
type Timer interface {
	ScheduleProposalTimeout(value.Height, value.Round)
	SchedulePrevoteTimeout(value.Height, value.Round)
	SchedulePrecommitTimeout(value.Height, value.Round)
}

// Committer is notified, best-effort, whenever a height is decided. A nil
// Committer is fine; Replica treats it as a no-op.
type Committer interface {
	Commit(value.Height, value.Value)
}

// RoundSkipThreshold selects between the paper's literal "2f+1" round-skip
// trigger and the customary, safer "f+1" Tendermint trigger (§4.2.10). This
// module defaults to F1 (see DESIGN.md for the rationale).
type RoundSkipThreshold int

// The two documented round-skip formulations.
const (
	RoundSkipF1  RoundSkipThreshold = iota // f+1: customary Tendermint trigger (default)
	RoundSkip2F1                           // 2f+1: the paper's literal pseudocode
)

// Options configures a Replica beyond its required collaborators.
type Options struct {
	Logger             logrus.FieldLogger
	RoundSkipThreshold RoundSkipThreshold
}

func (opts *Options) setZerosToDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
}

// Replica drives a sequence of consensus instances (heights) to agreement,
// as described by §4.2 of the specification. Construct one with New, then
// call Bootstrap once and OnMessage for every subsequent inbound message
// (peer message or self-scheduled timeout).
type Replica struct {
	f    int
	n    int
	self value.NodeID

	scheduler   Scheduler
	proposer    value.Proposer
	validator   value.Validator
	identifier  value.Identifier
	timer       Timer
	broadcaster Broadcaster
	committer   Committer

	log   *message.Log
	state State

	opts Options

	lastRoundSkip   value.Round
	lastCatchUp     value.Round
	haveCatchUpOnce bool
}

// New returns a Replica for a committee of n members (n = 3f+1 must hold;
// violating this is a construction-time fatal error per §7's DivisionByZero
// row). startHeight is usually 0.
func New(
	self value.NodeID,
	n int,
	startHeight value.Height,
	scheduler Scheduler,
	proposer value.Proposer,
	validator value.Validator,
	identifier value.Identifier,
	timer Timer,
	broadcaster Broadcaster,
	committer Committer,
	catcher message.Catcher,
	opts Options,
) *Replica {
	if n < 1 || (n-1)%3 != 0 {
		panic(fmt.Errorf("invariant violation: committee size must be 3f+1, got n=%d", n))
	}
	opts.setZerosToDefaults()
	f := (n - 1) / 3
	r := &Replica{
		f:    f,
		n:    n,
		self: self,

		scheduler:   scheduler,
		proposer:    proposer,
		validator:   validator,
		identifier:  identifier,
		timer:       timer,
		broadcaster: broadcaster,
		committer:   committer,

		state: NewState(startHeight),
		opts:  opts,

		lastRoundSkip: value.InvalidRound,
		lastCatchUp:   value.InvalidRound,
	}
	r.log = message.NewLog(f, func(h value.Height, rnd value.Round) value.NodeID {
		return scheduler.Schedule(h, rnd)
	}, catcher)
	return r
}

// F is the maximum number of Byzantine faults this Replica tolerates.
func (r *Replica) F() int { return r.f }

// CurrentHeight is an observable for harnesses (§6).
func (r *Replica) CurrentHeight() value.Height { return r.state.Height }

// CurrentRound is an observable for harnesses (§6).
func (r *Replica) CurrentRound() value.Round { return r.state.Round }

// CurrentStep is an observable for harnesses.
func (r *Replica) CurrentStep() Step { return r.state.Step }

// Decision is an observable for harnesses (§6).
func (r *Replica) Decision(height value.Height) (value.Value, bool) {
	return r.state.Decision(height)
}

// Bootstrap starts the Replica at round 0 of its starting height (§4.2
// "a single ... bootstrap() that calls StartRound(0)").
func (r *Replica) Bootstrap() {
	r.StartRound(0)
}

func (r *Replica) logger() logrus.FieldLogger {
	return r.opts.Logger.WithFields(logrus.Fields{
		"height": r.state.Height,
		"round":  r.state.Round,
		"step":   r.state.Step,
	})
}

// StartRound implements §4.2.1. Preconditions: round > r.state.Round, or
// this is the first round of a height (round 0 from Bootstrap, or r+1 after
// a decision at round r).
func (r *Replica) StartRound(round value.Round) {
	r.state.Round = round
	r.state.Step = StepPropose

	proposer := r.scheduler.Schedule(r.state.Height, r.state.Round)
	if proposer != r.self {
		r.timer.ScheduleProposalTimeout(r.state.Height, r.state.Round)
		return
	}

	proposeValue := r.state.ValidValue
	if proposeValue.Equal(value.NilValue) {
		proposeValue = r.proposer.Propose(r.state.Height, r.state.Round)
	}
	r.logger().Debug("proposing")
	r.broadcaster.BroadcastPropose(r.state.Height, r.state.Round, proposeValue, r.state.ValidRound)
	// The first-prevote rule (§4.2.2) fires once this Propose loops back
	// through the bus and arrives at OnMessage like any other message; it
	// is not applied synchronously here (see DESIGN.md).
}

// OnMessage is the Replica's single entry point (§4.2): it is invoked for
// every inbound message, peer-sent or self-scheduled. It is total,
// deterministic given the current state and message, and never panics on a
// protocol deviation -- malformed or out-of-context messages are simply
// dropped (§7).
func (r *Replica) OnMessage(m message.Message) {
	switch msg := m.(type) {
	case message.Propose:
		r.onPropose(msg)
	case message.Prevote:
		r.onPrevote(msg)
	case message.Precommit:
		r.onPrecommit(msg)
	case message.ProposalTimeout:
		r.onProposalTimeout(msg)
	case message.PrevoteTimeout:
		r.onPrevoteTimeout(msg)
	case message.PrecommitTimeout:
		r.onPrecommitTimeout(msg)
	default:
		r.logger().Warnf("dropping message of unknown kind %T", m)
	}
}

func (r *Replica) onPropose(msg message.Propose) {
	// InvalidProposal (§7): an invalid Value is still recorded (so
	// duplicate/wrong-proposer detection keeps working); valid(v) is
	// re-checked by each upon-rule below, driving the first-prevote rule
	// to nil rather than surfacing an error.
	reason := r.log.RecordProposal(msg.Height, msg.Round, msg.Sender, msg.Value, msg.ValidRound)
	if reason != message.Ok {
		r.logger().WithField("reason", reasonString(reason)).Debug("dropped proposal")
		return
	}

	r.trySkipToFutureRound(msg.Height, msg.Round)
	r.tryCommit(msg.Height, msg.Round)
	r.tryLockAndPrecommit()
	r.tryNilPrecommit()
	r.tryFirstPrevote()
	r.tryPrevoteOverride()
}

func (r *Replica) onPrevote(msg message.Prevote) {
	reason := r.log.RecordVote(message.PrevoteKind, msg.Height, msg.Round, msg.Sender, msg.ID)
	if reason != message.Ok {
		r.logger().WithField("reason", reasonString(reason)).Debug("dropped prevote")
		return
	}

	r.trySkipToFutureRound(msg.Height, msg.Round)
	r.tryPrevoteOverride()
	r.tryLockAndPrecommit()
	r.tryNilPrecommit()
	r.tryScheduleTimeoutPrevote(msg.Height, msg.Round)
}

func (r *Replica) onPrecommit(msg message.Precommit) {
	reason := r.log.RecordVote(message.PrecommitKind, msg.Height, msg.Round, msg.Sender, msg.ID)
	if reason != message.Ok {
		r.logger().WithField("reason", reasonString(reason)).Debug("dropped precommit")
		return
	}

	r.trySkipToFutureRound(msg.Height, msg.Round)
	r.tryCommit(msg.Height, msg.Round)
	r.tryCatchUp(msg.Height, msg.Round)
	r.tryScheduleTimeoutPrecommit(msg.Height, msg.Round)
}

// tryFirstPrevote implements §4.2.2: the vr == -1 arm.
func (r *Replica) tryFirstPrevote() {
	if r.state.Step != StepPropose {
		return
	}
	propose, ok := r.log.Proposal(r.state.Height, r.state.Round)
	if !ok || propose.ValidRound != value.InvalidRound {
		return
	}

	r.prevote(propose)
}

// tryPrevoteOverride implements §4.2.3: the vr >= 0 arm, driven by a prevote
// QC at the proposal's claimed ValidRound. Per the design note in §4.2.2,
// both arms are evaluated whenever either the enabling Propose or the
// auxiliary prevote-QC condition becomes true; both tryFirstPrevote and
// tryPrevoteOverride are therefore retried from every relevant OnMessage
// branch rather than from a single dispatch point.
func (r *Replica) tryPrevoteOverride() {
	if r.state.Step != StepPropose {
		return
	}
	propose, ok := r.log.Proposal(r.state.Height, r.state.Round)
	if !ok {
		return
	}
	vr := propose.ValidRound
	if vr < 0 || vr >= r.state.Round {
		return
	}
	tally := r.log.Tally(message.PrevoteKind, r.state.Height, vr)
	if tally.QC == nil || !tally.QC.Equal(r.identifier.ID(propose.Value)) {
		return
	}

	r.prevote(propose)
}

// prevote implements the shared tail of §4.2.2/§4.2.3: prevote id(v) if
// valid(v) and the lock allows it, else prevote nil; then advance to
// prevote. The lock test uses propose.ValidRound as the vr bound in both
// arms: vr == -1 collapses the "lockedRound <= vr" guard to exactly
// "lockedRound == -1", matching §4.2.2's own lockedRound == -1 check.
func (r *Replica) prevote(propose message.Propose) {
	vr := propose.ValidRound
	lockOK := r.state.LockedRound <= vr || r.state.LockedValue.Equal(propose.Value)

	id := value.NilID
	if r.validator.Valid(propose.Value) && lockOK {
		id = r.identifier.ID(propose.Value)
	}
	r.broadcaster.BroadcastPrevote(r.state.Height, r.state.Round, id)
	r.state.Step = StepPrevote
}

// tryScheduleTimeoutPrevote implements §4.2.4: the first time the prevote
// count at (height, round) reaches exactly 2f+1 while step == prevote,
// schedule PREVOTE_TIMEOUT. The strict equality test is fire-once because
// the count only ever increases by one per distinct, deduplicated sender
// (§4.1), so it can equal 2f+1 on at most one call.
func (r *Replica) tryScheduleTimeoutPrevote(height value.Height, round value.Round) {
	if height != r.state.Height || round != r.state.Round || r.state.Step != StepPrevote {
		return
	}
	if r.log.VoteCount(message.PrevoteKind, height, round) == 2*r.f+1 {
		r.timer.SchedulePrevoteTimeout(height, round)
	}
}

// tryScheduleTimeoutPrecommit implements §4.2.7, the precommit analogue of
// tryScheduleTimeoutPrevote. Unlike the prevote timeout, this one fires
// regardless of the current step (the paper applies no step guard here).
func (r *Replica) tryScheduleTimeoutPrecommit(height value.Height, round value.Round) {
	if height != r.state.Height || round != r.state.Round {
		return
	}
	if r.log.VoteCount(message.PrecommitKind, height, round) == 2*r.f+1 {
		r.timer.SchedulePrecommitTimeout(height, round)
	}
}

// tryLockAndPrecommit implements §4.2.5. It must only move LockedValue/
// LockedRound and broadcast once per round; that is guaranteed by the
// step == prevote guard, since this method itself advances the step away
// from prevote.
func (r *Replica) tryLockAndPrecommit() {
	if r.state.Step != StepPrevote && r.state.Step != StepPrecommit {
		return
	}
	propose, ok := r.log.Proposal(r.state.Height, r.state.Round)
	if !ok || !r.validator.Valid(propose.Value) {
		return
	}
	tally := r.log.Tally(message.PrevoteKind, r.state.Height, r.state.Round)
	wantID := r.identifier.ID(propose.Value)
	if tally.QC == nil || !tally.QC.Equal(wantID) {
		return
	}

	if r.state.Step == StepPrevote {
		r.state.LockedValue = propose.Value
		r.state.LockedRound = r.state.Round
		r.broadcaster.BroadcastPrecommit(r.state.Height, r.state.Round, wantID)
		r.state.Step = StepPrecommit
	}
	r.state.ValidValue = propose.Value
	r.state.ValidRound = r.state.Round
}

// tryNilPrecommit implements §4.2.6.
func (r *Replica) tryNilPrecommit() {
	if r.state.Step != StepPrevote {
		return
	}
	tally := r.log.Tally(message.PrevoteKind, r.state.Height, r.state.Round)
	if tally.QC == nil || !tally.QC.IsNil() {
		return
	}
	r.broadcaster.BroadcastPrecommit(r.state.Height, r.state.Round, value.NilID)
	r.state.Step = StepPrecommit
}

// tryCommit implements §4.2.8 for the specific (height, round) a just-
// recorded message pertains to (which need not be the replica's current
// round: a precommit QC can be recognized in any round once the proposal
// for that round is known).
func (r *Replica) tryCommit(height value.Height, round value.Round) {
	if height != r.state.Height {
		return
	}
	if _, decided := r.state.Decision(height); decided {
		return
	}
	propose, ok := r.log.Proposal(height, round)
	if !ok || !r.validator.Valid(propose.Value) {
		return
	}
	tally := r.log.Tally(message.PrecommitKind, height, round)
	wantID := r.identifier.ID(propose.Value)
	if tally.QC == nil || !tally.QC.Equal(wantID) {
		return
	}

	r.state.setDecision(height, propose.Value)
	if r.committer != nil {
		r.committer.Commit(height, propose.Value)
	}
	r.logger().WithField("value", propose.Value).Info("decided")

	r.state.Height = height + 1
	r.state.resetLockAndValid()
	r.StartRound(round + 1)
}

// tryCatchUp implements §4.2.9, an operational addition (not in the paper)
// for the partition case where a subgroup has already decided a height and
// the rest of the committee must be pulled forward. It is deliberately
// conservative: it only fires once per round, guarded by lastCatchUp, and
// only when the height in question is exactly the one this replica already
// decided.
func (r *Replica) tryCatchUp(height value.Height, round value.Round) {
	decided, ok := r.state.Decision(height)
	if !ok || round != r.state.Round || round <= r.lastCatchUp {
		return
	}
	propose, ok := r.log.Proposal(height, round)
	if !ok || !decided.Equal(propose.Value) {
		return
	}
	tally := r.log.Tally(message.PrecommitKind, height, round)
	wantID := r.identifier.ID(propose.Value)
	if tally.QC == nil || !tally.QC.Equal(wantID) {
		return
	}

	r.lastCatchUp = round
	r.state.resetLockAndValid()
	r.StartRound(round + 1)
}

// trySkipToFutureRound implements §4.2.10, the round-skip rule. This module
// defaults to the f+1 formulation (RoundSkipF1); RoundSkip2F1 selects the
// paper's literal, more conservative 2f+1 pseudocode. Either way the rule
// only ever moves forward (round must exceed the current round), so it can
// never violate the monotone-step/monotone-round invariants (I2, I5).
func (r *Replica) trySkipToFutureRound(height value.Height, round value.Round) {
	if height != r.state.Height || round <= r.state.Round || round <= r.lastRoundSkip {
		return
	}
	threshold := r.f + 1
	if r.opts.RoundSkipThreshold == RoundSkip2F1 {
		threshold = 2*r.f + 1
	}
	if r.log.MessageCount(height, round) < threshold {
		return
	}
	r.lastRoundSkip = round
	r.StartRound(round)
}

func (r *Replica) onProposalTimeout(msg message.ProposalTimeout) {
	if msg.Height != r.state.Height || msg.Round != r.state.Round || r.state.Step != StepPropose {
		return // StaleTimeout (§7): silently ignored
	}
	r.broadcaster.BroadcastPrevote(r.state.Height, r.state.Round, value.NilID)
	r.state.Step = StepPrevote
}

func (r *Replica) onPrevoteTimeout(msg message.PrevoteTimeout) {
	if msg.Height != r.state.Height || msg.Round != r.state.Round || r.state.Step != StepPrevote {
		return
	}
	r.broadcaster.BroadcastPrecommit(r.state.Height, r.state.Round, value.NilID)
	r.state.Step = StepPrecommit
}

func (r *Replica) onPrecommitTimeout(msg message.PrecommitTimeout) {
	if msg.Height != r.state.Height || msg.Round != r.state.Round {
		return
	}
	r.StartRound(msg.Round + 1)
}

func reasonString(reason message.Reason) string {
	switch reason {
	case message.DuplicateProposal:
		return "duplicate-proposal"
	case message.WrongProposer:
		return "wrong-proposer"
	case message.DuplicateVote:
		return "duplicate-vote"
	default:
		return "ok"
	}
}
