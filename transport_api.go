package trcb

import "context"

// Transport is the contract a broadcast actor relies on to move frames between peers.
// A concrete implementation (see the sibling transport package) resolves an ActorID to
// a live connection and delivers inbound frames to a Receiver; trcb itself only defines
// the boundary, matching how rebro keeps its Broadcaster interface free of pubsub or
// capnp specifics.
type Transport interface {
	// Send delivers frame to peer. Implementations should treat Send as fire-and-forget
	// from the caller's perspective: the Node never blocks its event loop on a response,
	// relying instead on AckFrame / retransmission for reliability (§5).
	Send(ctx context.Context, peer ActorID, frame []byte) error
}

// Receiver is the contract a Transport relies on to hand inbound frames to a broadcast
// actor. broadcast.Node implements Receiver; transport implementations depend only on
// this narrow interface, never on the broadcast package itself, to keep the dependency
// graph acyclic (transport -> trcb <- broadcast).
type Receiver interface {
	// OnFrame is invoked once per inbound frame, with the ActorID of the peer the
	// frame arrived from (which may differ from the frame's own Sender field only in
	// a misbehaving or misconfigured deployment; Non-goals exclude defending against
	// that case).
	OnFrame(ctx context.Context, from ActorID, frame Frame)
}
