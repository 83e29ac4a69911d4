package value_test

import (
	"testing/quick"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tendercore/tendercore/value"
)

var _ = Describe("Value", func() {
	Context("when comparing two values", func() {
		It("should equal itself", func() {
			f := func(data []byte) bool {
				v := value.Value(data)
				return v.Equal(v)
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})

		It("should treat nil and empty-but-non-nil distinctly", func() {
			Expect(value.NilValue.Equal(value.Value{})).To(BeFalse())
			Expect(value.NilValue.Equal(value.NilValue)).To(BeTrue())
		})
	})

	Context("when comparing two IDs", func() {
		It("NilID should be its own zero value", func() {
			Expect(value.NilID.IsNil()).To(BeTrue())
			Expect(value.ID{}.Equal(value.NilID)).To(BeTrue())
		})

		It("should equal itself", func() {
			f := func(data [32]byte) bool {
				id := value.ID(data)
				return id.Equal(id)
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})
	})

	Context("when the round sentinel is used as a bound", func() {
		It("InvalidRound should compare below every non-negative round", func() {
			f := func(r uint8) bool {
				return value.InvalidRound < value.Round(r)
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})
	})

	Context("when identifying Values with Sha3Identifier", func() {
		It("should be deterministic", func() {
			f := func(data []byte) bool {
				id := value.Sha3Identifier{}
				return id.ID(value.Value(data)).Equal(id.ID(value.Value(data)))
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})

		It("should never map two distinct Values onto the same ID", func() {
			f := func(a, b []byte) bool {
				if value.Value(a).Equal(value.Value(b)) {
					return true
				}
				id := value.Sha3Identifier{}
				return !id.ID(value.Value(a)).Equal(id.ID(value.Value(b)))
			}
			Expect(quick.Check(f, nil)).To(Succeed())
		})
	})
})
