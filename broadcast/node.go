// Package broadcast implements the single-threaded Transitive Reliable Causal
// Broadcast actor (component F) that coordinates the vector clock, timestamp matrix,
// causal-delivery buffer, retransmit queue, and forwarder of the sibling trcb package's
// data model. It plays the role rebro/gossip plays for rebro: trcb defines the
// vocabulary, broadcast drives it.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowmesh/trcb"
	"github.com/flowmesh/trcb/broadcast/internal/causal"
	"github.com/flowmesh/trcb/broadcast/internal/forward"
	"github.com/flowmesh/trcb/broadcast/internal/retransmit"
	"github.com/flowmesh/trcb/broadcast/internal/rtm"
)

const stateOpChannelSize = 64

// Snapshot is a read-only copy of a Node's state, safe to hold onto after the call
// that produced it returns. Used by operators and tests to inspect a running Node
// without racing its event loop (§ operational introspection, see SPEC_FULL.md).
type Snapshot struct {
	Self              trcb.ActorID
	Members           []trcb.ActorID
	VV                trcb.VClock
	SVV               trcb.VClock
	PendingDelivery   int
	OutstandingAcks   int
}

// Node is the broadcast actor. All of its state is owned exclusively by the goroutine
// spawned in Start; every exported method submits a stateOp over stateOpCh and blocks
// for the response, so concurrent callers serialize without any lock, matching the
// single-threaded cooperative actor model mandated by §5.
type Node struct {
	self trcb.ActorID
	cfg  trcb.Config
	tr   trcb.Transport
	log  *slog.Logger

	now func() time.Time

	stateOpCh         chan *stateOp
	closeCh, closedCh chan struct{}
	resendStopCh      chan struct{}

	// actor-owned state, touched only from stateLoop
	members           []trcb.ActorID
	vv                trcb.VClock
	matrix            *rtm.Matrix
	buffer            *causal.Buffer
	retransmitQ       *retransmit.Queue
	deliverHandler    trcb.DeliveryHandler
	membershipHandler trcb.MembershipHandler
}

// New constructs a Node. self is this node's own identity; tr is the transport used
// to send frames to peers. cfg is normalized with trcb.NewConfig internally, so a
// zero-valued Config is accepted and yields spec defaults. The Node is not running
// until Start is called.
func New(self trcb.ActorID, tr trcb.Transport, cfg trcb.Config, log *slog.Logger) (*Node, error) {
	if err := self.Validate(); err != nil {
		return nil, fmt.Errorf("trcb/broadcast: new node: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		self:        self,
		cfg:         trcb.NewConfig(cfg),
		tr:          tr,
		log:         log.With("module", "broadcast", "actor", string(self)),
		now:         time.Now,
		stateOpCh:   make(chan *stateOp, stateOpChannelSize),
		closeCh:     make(chan struct{}),
		closedCh:    make(chan struct{}),
		resendStopCh: make(chan struct{}),
		members:     nil,
		vv:          trcb.Fresh(),
		matrix:      rtm.New(),
		buffer:      causal.New(),
		retransmitQ: retransmit.New(),
	}, nil
}

// SetTransport assigns the Transport used to send outgoing frames. It exists because
// a Transport implementation (e.g. transport.Libp2pTransport) typically needs a
// trcb.Receiver — this Node — at its own construction time, making the two
// constructors mutually dependent; SetTransport breaks the cycle. It must be called
// before Start and is not safe to call concurrently with anything else.
func (n *Node) SetTransport(tr trcb.Transport) {
	n.tr = tr
}

// Start launches the event loop and the periodic resend ticker. It must be called
// exactly once before any other method.
func (n *Node) Start(context.Context) error {
	go n.stateLoop()
	go n.resendLoop()
	return nil
}

// Stop gracefully stops the Node, draining no queues: pending work is abandoned per
// the terminal-state rule of §4.F.
func (n *Node) Stop(ctx context.Context) error {
	select {
	case <-n.closeCh:
		return trcb.ErrNodeStopped
	default:
	}
	close(n.resendStopCh)
	close(n.closeCh)
	select {
	case <-n.closedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execOp submits op and blocks until the event loop has processed it or ctx expires.
func (n *Node) execOp(ctx context.Context, op *stateOp) error {
	select {
	case n.stateOpCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.closedCh:
		return trcb.ErrNodeStopped
	}
	select {
	case <-op.doneCh:
		return op.err
	case <-n.closedCh:
		return trcb.ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast initiates a causally-ready broadcast of body, returning the vector
// timestamp assigned to it (§6 Application API).
func (n *Node) Broadcast(ctx context.Context, body []byte) (trcb.VClock, error) {
	op := newStateOp(broadcastOp)
	op.body = body
	if err := n.execOp(ctx, op); err != nil {
		return nil, err
	}
	return op.ts, op.err
}

// SetDeliveryHandler replaces the current delivery handler.
func (n *Node) SetDeliveryHandler(ctx context.Context, h trcb.DeliveryHandler) error {
	op := newStateOp(setHandlerOp)
	op.deliverHandler = h
	return n.execOp(ctx, op)
}

// SetMembershipHandler installs a callback invoked whenever membership changes.
func (n *Node) SetMembershipHandler(ctx context.Context, h trcb.MembershipHandler) error {
	op := newStateOp(setMembershipHandlerOp)
	op.membershipHandler = h
	return n.execOp(ctx, op)
}

// StableFilter returns the subset of ts for which svv.descends(ts_i) (§6).
func (n *Node) StableFilter(ctx context.Context, ts []trcb.VClock) ([]trcb.VClock, error) {
	op := newStateOp(stableFilterOp)
	op.tsList = ts
	if err := n.execOp(ctx, op); err != nil {
		return nil, err
	}
	return op.stable, nil
}

// OnMembership replaces the known member set with newSet minus self (§4.F).
func (n *Node) OnMembership(ctx context.Context, newSet []trcb.ActorID) error {
	op := newStateOp(onMembershipOp)
	op.newMembers = newSet
	return n.execOp(ctx, op)
}

// Snapshot returns a read-only copy of the actor's state for introspection.
func (n *Node) Snapshot(ctx context.Context) (Snapshot, error) {
	op := newStateOp(snapshotOp)
	if err := n.execOp(ctx, op); err != nil {
		return Snapshot{}, err
	}
	return op.snapshot, nil
}

// OnFrame implements trcb.Receiver. A Transport calls this once per inbound frame;
// it is dispatched to the event loop as an onFrameOp and does not block the caller
// beyond the bounded time the actor takes to process one event.
func (n *Node) OnFrame(ctx context.Context, from trcb.ActorID, frame trcb.Frame) {
	op := newStateOp(onFrameOp)
	op.from = from
	op.frame = frame
	if err := n.execOp(ctx, op); err != nil {
		n.log.DebugContext(ctx, "dropped inbound frame", "err", err, "from", from)
	}
}

// resendLoop fires tick_resend every CheckResendInterval until Stop, mirroring
// bapl.MemPool's gc() ticker-plus-close-channel loop.
func (n *Node) resendLoop() {
	t := time.NewTicker(n.cfg.CheckResendInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			op := newStateOp(tickResendOp)
			op.nowMS = n.now().UnixMilli()
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.CheckResendInterval)
			_ = n.execOp(ctx, op)
			cancel()
		case <-n.resendStopCh:
			return
		}
	}
}

// stateLoop is the single-threaded event loop. Exactly one stateOp is processed at a
// time, preserving the serializability invariant of §3/§5.
func (n *Node) stateLoop() {
	doOp := func(op *stateOp) {
		switch op.kind {
		case broadcastOp:
			n.stateBroadcast(op)
		case setHandlerOp:
			n.deliverHandler = op.deliverHandler
			op.err = nil
			op.done()
		case setMembershipHandlerOp:
			n.membershipHandler = op.membershipHandler
			op.err = nil
			op.done()
		case stableFilterOp:
			n.stateStableFilter(op)
		case onFrameOp:
			n.stateOnFrame(op)
		case onMembershipOp:
			n.stateOnMembership(op)
		case tickResendOp:
			n.stateTickResend(op)
		case snapshotOp:
			n.stateSnapshot(op)
		default:
			panic("trcb/broadcast: unknown state operation")
		}
	}

	defer close(n.closedCh)

	for {
		select {
		case op := <-n.stateOpCh:
			doOp(op)
		case <-n.closeCh:
			return
		}
	}
}

// stateBroadcast implements the local-broadcast event of §4.E.
func (n *Node) stateBroadcast(op *stateOp) {
	ts := trcb.Increment(n.self, n.vv)
	n.vv = ts
	n.matrix.Observe(n.self, ts)

	if n.cfg.DeliverLocally && n.deliverHandler != nil {
		if err := n.deliverHandler(ts, op.body); err != nil {
			n.log.Error("local delivery handler failed", "err", err, "ts", ts.Key())
		}
	}

	n.sendFanout(trcb.NewCastFrame(trcb.Message{Origin: n.self, Body: op.body, Ts: ts}, n.self), n.members)
	n.retransmitQ.Register(n.self, op.body, ts, n.members, n.now().UnixMilli())

	op.ts = ts
	op.err = nil
	op.done()
}

// stateStableFilter implements stable_filter (§6).
func (n *Node) stateStableFilter(op *stateOp) {
	svv := n.matrix.StableVersionVector(n.self, n.members)
	out := make([]trcb.VClock, 0, len(op.tsList))
	for _, ts := range op.tsList {
		if svv.Descends(ts) {
			out = append(out, ts)
		}
	}
	op.stable = out
	op.err = nil
	op.done()
}

// stateOnFrame implements the on_cast/on_ack transport pushes of §4.F, dispatching on
// the frame's tag per the "tagged variants, not inheritance" guidance of §9.
func (n *Node) stateOnFrame(op *stateOp) {
	switch op.frame.Kind {
	case trcb.KindCast:
		n.stateOnCast(op.frame.Cast)
	case trcb.KindAck:
		n.stateOnAck(op.frame.Ack)
	default:
		n.log.Warn("dropped frame with unknown kind", "kind", op.frame.Kind, "from", op.from)
	}
	op.err = nil
	op.done()
}

// stateOnCast implements §4.D (forward/duplicate filter) and §4.C (admission) for an
// inbound cast frame.
func (n *Node) stateOnCast(c *trcb.CastFrame) {
	msg := c.Message()
	ts := msg.Ts

	if forward.Duplicate(n.vv, ts, n.buffer.Contains) {
		n.log.Debug("dropped duplicate cast", "err", trcb.ErrDuplicateFrame, "ts", ts.Key(), "origin", c.Origin)
		return
	}

	n.matrix.Observe(c.Origin, ts)

	fset := forward.Set(n.members, c.Sender, c.Origin)
	n.sendFanout(trcb.NewCastFrame(msg, n.self), fset)
	n.sendOne(c.Sender, trcb.NewAckFrame(ts, n.self))

	n.buffer.Push(c.Origin, c.Body, ts)
	n.retransmitQ.Register(c.Origin, c.Body, ts, fset, n.now().UnixMilli())

	n.drainBuffer()
}

// stateOnAck implements §4.E ack handling.
func (n *Node) stateOnAck(a *trcb.AckFrame) {
	ts := a.VClock()
	found, _ := n.retransmitQ.Ack(ts, a.Sender)
	if !found {
		n.log.Debug("dropped ack for unknown retransmit entry", "err", trcb.ErrUnknownAck, "ts", ts.Key(), "sender", a.Sender)
	}
}

// stateOnMembership implements §4.F on_membership.
func (n *Node) stateOnMembership(op *stateOp) {
	newSet := make([]trcb.ActorID, 0, len(op.newMembers))
	keep := make(map[trcb.ActorID]struct{}, len(op.newMembers))
	for _, p := range op.newMembers {
		if p == n.self {
			continue
		}
		newSet = append(newSet, p)
		keep[p] = struct{}{}
	}

	for _, p := range n.members {
		if _, ok := keep[p]; !ok {
			n.matrix.Drop(p)
			n.retransmitQ.DropPeer(p)
		}
	}

	n.members = newSet
	if n.membershipHandler != nil {
		n.membershipHandler(append([]trcb.ActorID(nil), newSet...))
	}
	op.err = nil
	op.done()
}

// stateTickResend implements §4.E periodic resend.
func (n *Node) stateTickResend(op *stateOp) {
	due := n.retransmitQ.DueForResend(op.nowMS, n.cfg.ResendAfter.Milliseconds())
	for _, e := range due {
		peers := make([]trcb.ActorID, 0, len(e.Awaiting))
		for p := range e.Awaiting {
			peers = append(peers, p)
		}
		n.sendFanout(trcb.NewCastFrame(trcb.Message{Origin: e.Origin, Body: e.Body, Ts: e.Ts}, n.self), peers)
	}
	op.err = nil
	op.done()
}

// stateSnapshot fills in a read-only view of the actor's state.
func (n *Node) stateSnapshot(op *stateOp) {
	op.snapshot = Snapshot{
		Self:            n.self,
		Members:         append([]trcb.ActorID(nil), n.members...),
		VV:              n.vv.Clone(),
		SVV:             n.matrix.StableVersionVector(n.self, n.members),
		PendingDelivery: n.buffer.Len(),
		OutstandingAcks: n.retransmitQ.Len(),
	}
	op.err = nil
	op.done()
}

// drainBuffer admits every buffered message that has become deliverable, invoking the
// delivery handler and folding each admission into vv, per §4.C's re-scan-to-fixed-
// point rule.
func (n *Node) drainBuffer() {
	handler := n.deliverHandler
	if handler == nil {
		handler = func(trcb.VClock, []byte) error { return nil }
	}
	var failedTs trcb.VClock
	vv, err := n.buffer.Drain(n.vv, func(ts trcb.VClock, body []byte) error {
		if err := handler(ts, body); err != nil {
			failedTs = ts
			return err
		}
		return nil
	})
	n.vv = vv
	if err != nil {
		n.log.Error("delivery handler failed", "err", &trcb.HandlerError{Ts: failedTs, Err: err})
	}
}

// sendFanout sends frame to every peer in peers concurrently, logging (never
// propagating) the first failure, mirroring bapl.MulticastPool's fire-and-forget
// fan-out but built on errgroup per the teacher's own declared dependency.
func (n *Node) sendFanout(frame trcb.Frame, peers []trcb.ActorID) {
	if len(peers) == 0 {
		return
	}
	data, err := frame.MarshalBinary()
	if err != nil {
		n.log.Error("failed to marshal outgoing frame", "err", err)
		return
	}

	var g errgroup.Group
	for _, p := range peers {
		p := p
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.CheckResendInterval)
			defer cancel()
			return n.tr.Send(ctx, p, data)
		})
	}
	if err := g.Wait(); err != nil {
		n.log.Warn("transport send failure, relying on retransmit timer", "err", err)
	}
}

// sendOne sends frame to a single peer, logging (never propagating) failure.
func (n *Node) sendOne(peer trcb.ActorID, frame trcb.Frame) {
	n.sendFanout(frame, []trcb.ActorID{peer})
}
