package message_test

import (
	"testing/quick"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tendercore/tendercore/message"
	"github.com/tendercore/tendercore/value"
)

var _ = Describe("Encode/Decode", func() {
	Context("when decoding fuzz", func() {
		It("should never panic", func() {
			f := func(fuzz []byte) bool {
				_, err := message.Decode(fuzz)
				_ = err
				return true
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})
	})

	Context("when encoding and then decoding a Propose", func() {
		It("should round-trip to an equal message", func() {
			f := func(height int64, round int64, val []byte, validRound int64) bool {
				expected := message.Propose{
					Sender:     randomSignatory(),
					Height:     value.Height(height),
					Round:      value.Round(round),
					Value:      value.Value(val),
					ValidRound: value.Round(validRound),
				}
				data, err := message.Encode(expected)
				Expect(err).ToNot(HaveOccurred())

				got, err := message.Decode(data)
				Expect(err).ToNot(HaveOccurred())
				Expect(got.Kind()).To(Equal(message.KindPropose))
				Expect(got.(message.Propose).Equal(expected)).To(BeTrue())
				return true
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})
	})

	Context("when encoding and then decoding a Prevote", func() {
		It("should round-trip to an equal message", func() {
			f := func(height int64, round int64) bool {
				expected := message.Prevote{
					Sender: randomSignatory(),
					Height: value.Height(height),
					Round:  value.Round(round),
					ID:     randomID(),
				}
				data, err := message.Encode(expected)
				Expect(err).ToNot(HaveOccurred())

				got, err := message.Decode(data)
				Expect(err).ToNot(HaveOccurred())
				Expect(got.Kind()).To(Equal(message.KindPrevote))
				Expect(got.(message.Prevote).Equal(expected)).To(BeTrue())
				return true
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})
	})

	Context("when encoding and then decoding a Precommit", func() {
		It("should round-trip to an equal message", func() {
			f := func(height int64, round int64) bool {
				expected := message.Precommit{
					Sender: randomSignatory(),
					Height: value.Height(height),
					Round:  value.Round(round),
					ID:     randomID(),
				}
				data, err := message.Encode(expected)
				Expect(err).ToNot(HaveOccurred())

				got, err := message.Decode(data)
				Expect(err).ToNot(HaveOccurred())
				Expect(got.Kind()).To(Equal(message.KindPrecommit))
				Expect(got.(message.Precommit).Equal(expected)).To(BeTrue())
				return true
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})
	})

	Context("when decoding a truncated message", func() {
		It("should return an error instead of panicking", func() {
			_, err := message.Decode(nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when decoding a timeout kind", func() {
		It("should be rejected: timeouts are never sent over the wire", func() {
			_, err := message.Decode([]byte{byte(message.KindProposalTimeout)})
			Expect(err).To(HaveOccurred())
		})
	})
})
