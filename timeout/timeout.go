// Package timeout implements the Timeout Scheduler Client (component C3): it
// turns the consensus core's "schedule a PROPOSAL_TIMEOUT/PREVOTE_TIMEOUT/
// PRECOMMIT_TIMEOUT for (height, round)" requests into delayed self-messages
// submitted to an external bus, as described in §4.3 of the specification.
package timeout

import (
	"time"

	"github.com/tendercore/tendercore/message"
	"github.com/tendercore/tendercore/value"
)

// Options configures the monotonically nondecreasing per-round timeout
// functions. Each family (Propose/Prevote/Precommit) is
// Base + Round*Increment, capped at Max. This generalizes the teacher's
// BackOffExp/BackOffBase/BackOffMax reconnection-backoff shape to the three
// Tendermint timeout families, and generalizes §4.2.1's suggested
// "(r+1)*Delta with fixed Delta" into a configurable function.
type Options struct {
	ProposeBase        time.Duration
	ProposeIncrement   time.Duration
	ProposeMax         time.Duration
	PrevoteBase        time.Duration
	PrevoteIncrement   time.Duration
	PrevoteMax         time.Duration
	PrecommitBase      time.Duration
	PrecommitIncrement time.Duration
	PrecommitMax       time.Duration
}

// setZerosToDefaults fills any zero-valued field with a sane default,
// mirroring replica.Options.setZerosToDefaults in the teacher.
func (opts *Options) setZerosToDefaults() {
	if opts.ProposeBase == 0 {
		opts.ProposeBase = 3 * time.Second
	}
	if opts.ProposeIncrement == 0 {
		opts.ProposeIncrement = 500 * time.Millisecond
	}
	if opts.ProposeMax == 0 {
		opts.ProposeMax = 30 * time.Second
	}
	if opts.PrevoteBase == 0 {
		opts.PrevoteBase = 1 * time.Second
	}
	if opts.PrevoteIncrement == 0 {
		opts.PrevoteIncrement = 500 * time.Millisecond
	}
	if opts.PrevoteMax == 0 {
		opts.PrevoteMax = 30 * time.Second
	}
	if opts.PrecommitBase == 0 {
		opts.PrecommitBase = 1 * time.Second
	}
	if opts.PrecommitIncrement == 0 {
		opts.PrecommitIncrement = 500 * time.Millisecond
	}
	if opts.PrecommitMax == 0 {
		opts.PrecommitMax = 30 * time.Second
	}
}

func clamp(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}

// Propose is timeoutPropose(round): the delay to wait for a PROPOSAL before
// giving up on the round.
func (opts Options) Propose(round value.Round) time.Duration {
	return clamp(opts.ProposeBase+time.Duration(round)*opts.ProposeIncrement, opts.ProposeMax)
}

// Prevote is timeoutPrevote(round).
func (opts Options) Prevote(round value.Round) time.Duration {
	return clamp(opts.PrevoteBase+time.Duration(round)*opts.PrevoteIncrement, opts.PrevoteMax)
}

// Precommit is timeoutPrecommit(round).
func (opts Options) Precommit(round value.Round) time.Duration {
	return clamp(opts.PrecommitBase+time.Duration(round)*opts.PrecommitIncrement, opts.PrecommitMax)
}

// Bus is the subset of the external message bus (E1) that the Client needs:
// the ability to schedule a self-addressed message for delivery no earlier
// than a given instant.
type Bus interface {
	Schedule(self value.NodeID, msg message.Message, at time.Time)
}

// Clock returns the current time. Production code uses time.Now; tests
// inject a deterministic or virtual clock so scenarios are reproducible.
type Clock func() time.Time

// Client is the Timeout Scheduler Client (C3). It has no state of its own:
// every call simply computes a delivery instant and hands a tagged timeout
// message to the Bus. Cancellation is not supported (and not required,
// since stale timeouts are filtered by the (height, round, step) guard in
// the consensus core, per §4.2.11).
type Client struct {
	self  value.NodeID
	bus   Bus
	clock Clock
	opts  Options
}

// NewClient returns a Client that schedules timeouts for self via bus. If
// clock is nil, time.Now is used.
func NewClient(self value.NodeID, bus Bus, opts Options, clock Clock) *Client {
	opts.setZerosToDefaults()
	if clock == nil {
		clock = time.Now
	}
	return &Client{self: self, bus: bus, clock: clock, opts: opts}
}

// ScheduleProposalTimeout requests a PROPOSAL_TIMEOUT{height, round} no
// earlier than timeoutPropose(round) from now.
func (c *Client) ScheduleProposalTimeout(height value.Height, round value.Round) {
	c.bus.Schedule(c.self, message.NewProposalTimeout(height, round), c.clock().Add(c.opts.Propose(round)))
}

// SchedulePrevoteTimeout requests a PREVOTE_TIMEOUT{height, round} no
// earlier than timeoutPrevote(round) from now.
func (c *Client) SchedulePrevoteTimeout(height value.Height, round value.Round) {
	c.bus.Schedule(c.self, message.NewPrevoteTimeout(height, round), c.clock().Add(c.opts.Prevote(round)))
}

// SchedulePrecommitTimeout requests a PRECOMMIT_TIMEOUT{height, round} no
// earlier than timeoutPrecommit(round) from now.
func (c *Client) SchedulePrecommitTimeout(height value.Height, round value.Round) {
	c.bus.Schedule(c.self, message.NewPrecommitTimeout(height, round), c.clock().Add(c.opts.Precommit(round)))
}
