package message_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/renproject/id"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tendercore/tendercore/message"
	"github.com/tendercore/tendercore/value"
)

func randomSignatory() value.NodeID {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return id.NewSignatory(priv.PublicKey)
}

func randomID() value.ID {
	var out value.ID
	copy(out[:], randomSignatory()[:])
	return out
}

var _ = Describe("Log", func() {
	var (
		proposer value.NodeID
		others   []value.NodeID
		schedule message.Schedule
		f        int
	)

	BeforeEach(func() {
		proposer = randomSignatory()
		others = []value.NodeID{randomSignatory(), randomSignatory(), randomSignatory()}
		schedule = func(value.Height, value.Round) value.NodeID { return proposer }
		f = 1 // n = 4
	})

	Context("when recording a proposal", func() {
		It("should accept the first proposal from the designated proposer", func() {
			log := message.NewLog(f, schedule, nil)
			reason := log.RecordProposal(0, 0, proposer, value.Value("v"), value.InvalidRound)
			Expect(reason).To(Equal(message.Ok))

			got, ok := log.Proposal(0, 0)
			Expect(ok).To(BeTrue())
			Expect(got.Value.Equal(value.Value("v"))).To(BeTrue())
		})

		It("should reject a proposal from a non-designated sender", func() {
			log := message.NewLog(f, schedule, nil)
			reason := log.RecordProposal(0, 0, others[0], value.Value("v"), value.InvalidRound)
			Expect(reason).To(Equal(message.WrongProposer))
			_, ok := log.Proposal(0, 0)
			Expect(ok).To(BeFalse())
		})

		It("should reject a second proposal at the same (height, round)", func() {
			log := message.NewLog(f, schedule, nil)
			Expect(log.RecordProposal(0, 0, proposer, value.Value("v1"), value.InvalidRound)).To(Equal(message.Ok))
			reason := log.RecordProposal(0, 0, proposer, value.Value("v2"), value.InvalidRound)
			Expect(reason).To(Equal(message.DuplicateProposal))

			got, _ := log.Proposal(0, 0)
			Expect(got.Value.Equal(value.Value("v1"))).To(BeTrue())
		})

		It("should notify the Catcher of an equivocating proposal", func() {
			caught := false
			catcher := &mockCatcher{
				onDuplicateProposal: func(h value.Height, r value.Round, existing, attempted message.Propose) {
					caught = true
				},
			}
			log := message.NewLog(f, schedule, catcher)
			Expect(log.RecordProposal(0, 0, proposer, value.Value("v1"), value.InvalidRound)).To(Equal(message.Ok))
			log.RecordProposal(0, 0, proposer, value.Value("v2"), value.InvalidRound)
			Expect(caught).To(BeTrue())
		})
	})

	Context("when recording votes", func() {
		It("should reject a second vote from the same sender", func() {
			log := message.NewLog(f, schedule, nil)
			sender := others[0]
			id1 := randomID()
			id2 := randomID()
			Expect(log.RecordVote(message.PrevoteKind, 0, 0, sender, id1)).To(Equal(message.Ok))
			reason := log.RecordVote(message.PrevoteKind, 0, 0, sender, id2)
			Expect(reason).To(Equal(message.DuplicateVote))
			Expect(log.VoteCount(message.PrevoteKind, 0, 0)).To(Equal(1))
		})

		It("should report no quorum certificate below 2f+1 identical votes", func() {
			log := message.NewLog(f, schedule, nil)
			target := randomID()
			log.RecordVote(message.PrevoteKind, 0, 0, others[0], target)
			log.RecordVote(message.PrevoteKind, 0, 0, others[1], target)
			tally := log.Tally(message.PrevoteKind, 0, 0)
			Expect(tally.QC).To(BeNil())
			Expect(tally.Count).To(Equal(2))
		})

		It("should report a quorum certificate once 2f+1 identical votes are recorded", func() {
			log := message.NewLog(f, schedule, nil)
			target := randomID()
			log.RecordVote(message.PrevoteKind, 0, 0, proposer, target)
			log.RecordVote(message.PrevoteKind, 0, 0, others[0], target)
			log.RecordVote(message.PrevoteKind, 0, 0, others[1], target)
			tally := log.Tally(message.PrevoteKind, 0, 0)
			Expect(tally.QC).ToNot(BeNil())
			Expect(tally.QC.Equal(target)).To(BeTrue())
		})

		It("should never change a quorum certificate once it has been set", func() {
			log := message.NewLog(f, schedule, nil)
			target := randomID()
			other := randomID()
			log.RecordVote(message.PrevoteKind, 0, 0, proposer, target)
			log.RecordVote(message.PrevoteKind, 0, 0, others[0], target)
			log.RecordVote(message.PrevoteKind, 0, 0, others[1], target)
			first := log.Tally(message.PrevoteKind, 0, 0).QC

			log.RecordVote(message.PrevoteKind, 0, 0, others[2], other)
			second := log.Tally(message.PrevoteKind, 0, 0).QC
			Expect(second.Equal(*first)).To(BeTrue())
		})

		It("should keep PREVOTE and PRECOMMIT tallies independent", func() {
			log := message.NewLog(f, schedule, nil)
			target := randomID()
			log.RecordVote(message.PrevoteKind, 0, 0, proposer, target)
			Expect(log.VoteCount(message.PrecommitKind, 0, 0)).To(Equal(0))
		})
	})

	Context("when counting distinct senders for the round-skip rule", func() {
		It("should count a proposal and votes from the same sender only once", func() {
			log := message.NewLog(f, schedule, nil)
			log.RecordProposal(0, 0, proposer, value.Value("v"), value.InvalidRound)
			log.RecordVote(message.PrevoteKind, 0, 0, proposer, randomID())
			log.RecordVote(message.PrecommitKind, 0, 0, proposer, randomID())
			Expect(log.MessageCount(0, 0)).To(Equal(1))
		})

		It("should count distinct senders across all three message kinds", func() {
			log := message.NewLog(f, schedule, nil)
			log.RecordProposal(0, 0, proposer, value.Value("v"), value.InvalidRound)
			log.RecordVote(message.PrevoteKind, 0, 0, others[0], randomID())
			log.RecordVote(message.PrecommitKind, 0, 0, others[1], randomID())
			Expect(log.MessageCount(0, 0)).To(Equal(3))
		})
	})
})

type mockCatcher struct {
	onDuplicateProposal func(value.Height, value.Round, message.Propose, message.Propose)
	onDuplicateVote     func(message.VoteKind, value.Height, value.Round, message.Vote, message.Vote)
}

func (m *mockCatcher) CatchDuplicateProposal(h value.Height, r value.Round, existing, attempted message.Propose) {
	if m.onDuplicateProposal != nil {
		m.onDuplicateProposal(h, r, existing, attempted)
	}
}

func (m *mockCatcher) CatchDuplicateVote(kind message.VoteKind, h value.Height, r value.Round, existing, attempted message.Vote) {
	if m.onDuplicateVote != nil {
		m.onDuplicateVote(kind, h, r, existing, attempted)
	}
}
