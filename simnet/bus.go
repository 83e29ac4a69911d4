// Package simnet is the in-process replica.Bus (E1) used to drive and test a
// committee of Replicas without a real network: an all-to-all broadcaster
// plus a priority-queue scheduler for self-addressed timeouts, grounded on
// the reference implementation's message_queue.MessageQueue.
package simnet

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/renproject/phi"
	"github.com/sirupsen/logrus"

	"github.com/tendercore/tendercore/message"
	"github.com/tendercore/tendercore/value"
)

// event is one scheduled delivery: at virtual time "at", message msg is
// delivered to node "to". seq breaks ties between events scheduled for the
// same instant in submission order, giving deterministic FIFO delivery.
type event struct {
	at  time.Time
	seq uint64
	to  value.NodeID
	msg message.Message

	// raw, when non-nil, is the wire encoding (message.Encode) of a broadcast
	// Propose/Prevote/Precommit; Run decodes it back into msg at delivery
	// time, so every peer-to-peer hop in a scenario actually exercises the
	// codec. Self-scheduled timeouts are never encoded (message.Decode
	// rejects their Kind, matching §6: timeouts are never sent over the
	// wire), so they're enqueued via msg directly instead.
	raw []byte
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Sink receives a delivered message. *replica.Replica satisfies this via its
// OnMessage method.
type Sink interface {
	OnMessage(message.Message)
}

// Network is a deterministic, virtual-time simulated bus connecting a fixed
// committee. It implements one replica.Bus per member (see Network.BusFor)
// and drains its event queue with Run, advancing a virtual clock instead of
// wall-clock time so that scenarios are reproducible.
//
// It also tracks, across the whole committee, the bookkeeping the reference
// harness uses for its safety_check/liveness_check: every replica's decision
// log and current (height, round), inspected by SafetyViolation/Liveness.
type Network struct {
	mu sync.Mutex

	runID  string
	logger logrus.FieldLogger

	committee []value.NodeID
	sinks     map[value.NodeID]Sink
	active    map[value.NodeID]bool

	clock time.Time
	seq   uint64
	queue eventHeap

	observers map[value.NodeID]Observer
}

// Observer is the read-only view of one committee member's state that the
// Network needs for its safety/liveness checks. *replica.Replica satisfies
// this directly.
type Observer interface {
	CurrentHeight() value.Height
	CurrentRound() value.Round
	Decision(value.Height) (value.Value, bool)
}

// NewNetwork returns an empty Network over committee, with its virtual clock
// starting at epoch. Every Network is stamped with a fresh run ID so that log
// lines from concurrently-running scenarios (see RunIndependent) can be told
// apart.
func NewNetwork(committee []value.NodeID, epoch time.Time) *Network {
	runID := uuid.New().String()
	return &Network{
		runID:     runID,
		logger:    logrus.StandardLogger().WithField("run", runID),
		committee: append([]value.NodeID(nil), committee...),
		sinks:     map[value.NodeID]Sink{},
		active:    map[value.NodeID]bool{},
		observers: map[value.NodeID]Observer{},
		clock:     epoch,
	}
}

// RunID is the UUID this Network was stamped with, suitable for correlating
// its log output with a particular scenario run.
func (n *Network) RunID() string {
	return n.runID
}

// Join registers a committee member's message sink and state observer
// (almost always the same *replica.Replica value for both) and marks it
// active. Call this once per member before Run.
func (n *Network) Join(self value.NodeID, sink Sink, observer Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks[self] = sink
	n.observers[self] = observer
	n.active[self] = true
}

// Now is the Network's virtual clock, suitable as a timeout.Clock.
func (n *Network) Now() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clock
}

// Partition marks a committee member inactive: its broadcasts are dropped at
// the source and nothing is delivered to it (used by S5/S6-style Byzantine
// and partition scenarios).
func (n *Network) Partition(id value.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active[id] = false
}

// Heal reverses Partition.
func (n *Network) Heal(id value.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active[id] = true
}

// BusFor returns the replica.Bus a committee member with identity self
// should be constructed with.
func (n *Network) BusFor(self value.NodeID) nodeBus {
	return nodeBus{self: self, net: n}
}

type nodeBus struct {
	self value.NodeID
	net  *Network
}

// Broadcast implements replica.Bus: fan out to every active committee
// member, including self, at the current virtual time. The fan-out itself
// runs concurrently (mirroring the teacher's MockBroadcaster use of
// phi.ParForAll), but the seq numbers of the whole fan-out are reserved up
// front in committee order, so delivery order only ever depends on the seq
// counter, not goroutine scheduling.
//
// Every broadcast is run through message.Encode here and message.Decode at
// delivery (see Run), so the wire codec a real transport would use is
// exercised end to end by every scenario, not just by marshal_test.go.
func (b nodeBus) Broadcast(msg message.Message) {
	b.net.mu.Lock()
	from := b.net.active[b.self]
	now := b.net.clock
	peers := append([]value.NodeID(nil), b.net.committee...)
	base := b.net.seq
	if from {
		b.net.seq += uint64(len(peers))
	}
	b.net.mu.Unlock()

	if !from {
		return
	}

	raw, err := message.Encode(msg)
	if err != nil {
		b.net.logger.WithField("error", err).Error("simnet: dropping message that failed to encode")
		return
	}

	phi.ParForAll(peers, func(i int) {
		to := peers[i]
		b.net.enqueueRaw(to, raw, now, base+uint64(i))
	})
}

// Schedule implements replica.Bus (by way of timeout.Bus): a self-addressed
// delayed delivery. Timeouts are never encoded: they're internal to a
// replica and never cross the wire in a real deployment either.
func (b nodeBus) Schedule(self value.NodeID, msg message.Message, at time.Time) {
	b.net.enqueue(self, msg, at)
}

func (n *Network) enqueue(to value.NodeID, msg message.Message, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.active[to] {
		return
	}
	heap.Push(&n.queue, &event{at: at, seq: n.seq, to: to, msg: msg})
	n.seq++
}

func (n *Network) enqueueRaw(to value.NodeID, raw []byte, at time.Time, seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.active[to] {
		return
	}
	heap.Push(&n.queue, &event{at: at, seq: seq, to: to, raw: raw})
}

// Run pops and delivers events in (virtual-time, seq) order until the queue
// is empty or maxEvents have been delivered, whichever comes first; a check
// function (if non-nil) is invoked after every delivered event, mirroring
// the reference harness's periodic safety_check/liveness_check. Run returns
// the number of events delivered.
func (n *Network) Run(maxEvents int, check func(*Network)) int {
	delivered := 0
	for delivered < maxEvents {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			break
		}
		ev := heap.Pop(&n.queue).(*event)
		if ev.at.After(n.clock) {
			n.clock = ev.at
		}
		sink, ok := n.sinks[ev.to]
		active := n.active[ev.to]
		n.mu.Unlock()

		if ok && active {
			msg := ev.msg
			if ev.raw != nil {
				decoded, err := message.Decode(ev.raw)
				if err != nil {
					n.logger.WithField("error", err).Error("simnet: dropping message that failed to decode")
					msg = nil
				} else {
					msg = decoded
				}
			}
			if msg != nil {
				sink.OnMessage(msg)
			}
		}
		delivered++
		if check != nil {
			check(n)
		}
	}
	n.logger.WithField("delivered", delivered).Debug("simnet run drained")
	return delivered
}

// Decisions returns the Value every joined observer (partitioned or not) has
// decided at height, keyed by NodeID, omitting members with no decision yet.
func (n *Network) Decisions(height value.Height) map[value.NodeID]value.Value {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := map[value.NodeID]value.Value{}
	for id, obs := range n.observers {
		if v, ok := obs.Decision(height); ok {
			out[id] = v
		}
	}
	return out
}
