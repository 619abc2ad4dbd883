package broadcast

import "github.com/flowmesh/trcb"

// stateOpKind identifies which event handler of §4.F a stateOp carries.
type stateOpKind uint8

const (
	broadcastOp stateOpKind = iota
	setHandlerOp
	setMembershipHandlerOp
	stableFilterOp
	onFrameOp
	onMembershipOp
	tickResendOp
	snapshotOp
)

// stateOp is a single event submitted to the Node's event loop. Every field not
// relevant to op.kind is left zero. Exactly one goroutine (stateLoop) ever reads the
// request fields or writes the response fields, so no further synchronization is
// needed beyond doneCh itself.
type stateOp struct {
	kind   stateOpKind
	doneCh chan struct{}

	// request data
	body              []byte                  // broadcastOp
	deliverHandler    trcb.DeliveryHandler     // setHandlerOp
	membershipHandler trcb.MembershipHandler   // setMembershipHandlerOp
	tsList            []trcb.VClock            // stableFilterOp
	from              trcb.ActorID             // onFrameOp
	frame             trcb.Frame               // onFrameOp
	newMembers        []trcb.ActorID           // onMembershipOp
	nowMS             int64                   // tickResendOp

	// response data
	ts        trcb.VClock   // broadcastOp
	stable    []trcb.VClock // stableFilterOp
	snapshot  Snapshot      // snapshotOp
	err       error
}

func newStateOp(kind stateOpKind) *stateOp {
	return &stateOp{kind: kind, doneCh: make(chan struct{}, 1)}
}

func (op *stateOp) done() {
	op.doneCh <- struct{}{}
}
