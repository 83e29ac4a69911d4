// Package replica wires the three consensus components (message.Log inside
// consensus.Replica, consensus.Replica itself, and timeout.Client) to an
// external bus, exposing the small "Replica API" of §6: new, add_peer,
// bootstrap, on_message, and a handful of observables.
package replica

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tendercore/tendercore/consensus"
	"github.com/tendercore/tendercore/message"
	"github.com/tendercore/tendercore/timeout"
	"github.com/tendercore/tendercore/value"
)

// Bus is everything a Replica needs from the external transport (E1): send a
// message to every peer (including self, which is expected to loop back) and
// schedule a self-addressed delayed message. Production code backs this with
// a real network; simnet backs it with an in-process FIFO queue.
type Bus interface {
	Broadcast(msg message.Message)
	Schedule(self value.NodeID, msg message.Message, at time.Time)
}

// Options configures a Replica beyond its required collaborators, mirroring
// the teacher's Options/setZerosToDefaults idiom (replica/replica.go in the
// teacher).
type Options struct {
	Logger logrus.FieldLogger

	Timeouts           timeout.Options
	RoundSkipThreshold consensus.RoundSkipThreshold

	Clock timeout.Clock
}

func (opts *Options) setZerosToDefaults() {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
}

// busBroadcaster adapts a Bus to consensus.Broadcaster by stamping the
// replica's own NodeID onto each outbound message.
type busBroadcaster struct {
	self value.NodeID
	bus  Bus
}

func (b busBroadcaster) BroadcastPropose(height value.Height, round value.Round, v value.Value, validRound value.Round) {
	b.bus.Broadcast(message.Propose{Sender: b.self, Height: height, Round: round, Value: v, ValidRound: validRound})
}

func (b busBroadcaster) BroadcastPrevote(height value.Height, round value.Round, id value.ID) {
	b.bus.Broadcast(message.Prevote{Sender: b.self, Height: height, Round: round, ID: id})
}

func (b busBroadcaster) BroadcastPrecommit(height value.Height, round value.Round, id value.ID) {
	b.bus.Broadcast(message.Precommit{Sender: b.self, Height: height, Round: round, ID: id})
}

// Replica is the externally-facing handle for one committee member: it owns
// a consensus.Replica (C2, which in turn owns the message.Log, C1) and a
// timeout.Client (C3), and drives both from a single on_message entry point.
type Replica struct {
	self  value.NodeID
	bus   Bus
	opts  Options
	timer *timeout.Client
	core  *consensus.Replica
}

// New constructs a Replica for a committee of n members (n = 3f+1; violating
// this is a construction-time fatal error, panicking out of consensus.New).
// committee must list every member including self, in the fixed order the
// Scheduler indexes into. proposer/validator/identifier/committer/catcher
// are the external collaborators E2/E3/E4 and the optional commit-notify and
// equivocation-catch hooks.
func New(
	self value.NodeID,
	committee []value.NodeID,
	startHeight value.Height,
	bus Bus,
	proposer value.Proposer,
	validator value.Validator,
	identifier value.Identifier,
	committer consensus.Committer,
	catcher message.Catcher,
	opts Options,
) (*Replica, error) {
	opts.setZerosToDefaults()
	if identifier == nil {
		identifier = value.Sha3Identifier{}
	}

	found := false
	for _, member := range committee {
		if member == self {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.Errorf("replica %v is not a member of its own committee", self)
	}

	timer := timeout.NewClient(self, timeoutBusAdapter{bus}, opts.Timeouts, opts.Clock)
	scheduler := consensus.RoundRobin{Committee: append([]value.NodeID(nil), committee...)}

	core := consensus.New(
		self,
		len(committee),
		startHeight,
		scheduler,
		proposer,
		validator,
		identifier,
		timer,
		busBroadcaster{self: self, bus: bus},
		committer,
		catcher,
		consensus.Options{Logger: opts.Logger, RoundSkipThreshold: opts.RoundSkipThreshold},
	)

	return &Replica{
		self:  self,
		bus:   bus,
		opts:  opts,
		timer: timer,
		core:  core,
	}, nil
}

// timeoutBusAdapter narrows Bus down to timeout.Bus.
type timeoutBusAdapter struct{ bus Bus }

func (a timeoutBusAdapter) Schedule(self value.NodeID, msg message.Message, at time.Time) {
	a.bus.Schedule(self, msg, at)
}

// Self returns this Replica's own identity.
func (r *Replica) Self() value.NodeID { return r.self }

// F is the maximum number of Byzantine faults this Replica's committee
// tolerates.
func (r *Replica) F() int { return r.core.F() }

// Bootstrap starts round 0 of the Replica's starting height. Call it exactly
// once after construction, before any call to OnMessage.
func (r *Replica) Bootstrap() {
	r.core.Bootstrap()
}

// OnMessage feeds one inbound message (from a peer, or a self-scheduled
// timeout) into the Replica. It is the single entry point named by §6.
func (r *Replica) OnMessage(msg message.Message) {
	r.core.OnMessage(msg)
}

// CurrentHeight observes the Replica's current consensus height.
func (r *Replica) CurrentHeight() value.Height { return r.core.CurrentHeight() }

// CurrentRound observes the Replica's current round within CurrentHeight.
func (r *Replica) CurrentRound() value.Round { return r.core.CurrentRound() }

// CurrentStep observes the Replica's current step within CurrentRound.
func (r *Replica) CurrentStep() consensus.Step { return r.core.CurrentStep() }

// Decision reports the Value decided at height, if any.
func (r *Replica) Decision(height value.Height) (value.Value, bool) {
	return r.core.Decision(height)
}

// String implements fmt.Stringer for logging.
func (r *Replica) String() string {
	return fmt.Sprintf("replica(%v @ h=%v r=%v s=%v)", r.self, r.CurrentHeight(), r.CurrentRound(), r.CurrentStep())
}
