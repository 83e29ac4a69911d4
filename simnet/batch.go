package simnet

import (
	"github.com/republicprotocol/co-go"
)

// RunIndependent runs each of runs concurrently to completion. Each run is
// expected to build and drive its own Network (an independent committee, an
// independent virtual clock), so there is no shared state between them;
// this only exists to let a caller fire off many independent scenario runs
// (e.g. a property-based sweep over random seeds) without serializing them.
func RunIndependent(runs ...func()) {
	co.ParBegin(runs...)
}
