// Package transport implements the Transport adapter interface (component G) over
// point-to-point libp2p streams, grounded on bapl.MulticastPool's sendBatch/rcvBatch
// stream handling. Unlike bapl's application-level batch multicast, TRCB forwarding
// is inherently unicast per destination with its own ack/retransmit layer above the
// transport, so this adapter does not wait for a stream-level ack the way
// MulticastPool.sendBatch does — Cast/Ack frames carry that at the protocol level.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/flowmesh/trcb"
)

// DefaultProtocolID is the libp2p stream protocol used to exchange TRCB frames.
var DefaultProtocolID = protocol.ID("/trcb/v0.1.0")

// NewActorID derives a trcb.ActorID from a libp2p host identity plus a unique
// integer, per §3's "derived once at startup from host identity plus a unique
// integer" requirement. Encoding the host's peer.ID directly into the ActorID lets
// Libp2pTransport.Send resolve a destination without a separate identity registry.
func NewActorID(hostID peer.ID, seq uint64) trcb.ActorID {
	return trcb.ActorID(hostID.String() + "/" + strconv.FormatUint(seq, 10))
}

// peerOf extracts the libp2p peer.ID encoded in an ActorID produced by NewActorID.
func peerOf(a trcb.ActorID) (peer.ID, error) {
	s := string(a)
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return "", fmt.Errorf("trcb/transport: actor id %q has no embedded peer id", s)
	}
	return peer.Decode(s[:idx])
}

// Libp2pTransport implements trcb.Transport over libp2p host streams. It dispatches
// every inbound frame to a single trcb.Receiver, which in practice is a
// broadcast.Node — but this package never imports broadcast, keeping the dependency
// graph acyclic (transport -> trcb <- broadcast).
type Libp2pTransport struct {
	host       host.Host
	protocolID protocol.ID
	recv       trcb.Receiver
	log        *slog.Logger
}

// New constructs a Libp2pTransport. recv receives every inbound frame via OnFrame.
func New(h host.Host, recv trcb.Receiver, log *slog.Logger) *Libp2pTransport {
	if log == nil {
		log = slog.Default()
	}
	return &Libp2pTransport{
		host:       h,
		protocolID: DefaultProtocolID,
		recv:       recv,
		log:        log.With("module", "transport"),
	}
}

// Start registers the stream handler. Must be called before peers can reach this node.
func (t *Libp2pTransport) Start() {
	t.host.SetStreamHandler(t.protocolID, func(s network.Stream) {
		if err := t.receiveStream(s); err != nil {
			t.log.Error("receiving frame", "err", err)
		}
	})
}

// Stop deregisters the stream handler.
func (t *Libp2pTransport) Stop() {
	t.host.RemoveStreamHandler(t.protocolID)
}

// Send implements trcb.Transport by opening a stream to peer, writing frame, and
// closing the write side. Send is best-effort: per §6 a failed send is unobservable
// to the core and recovery is left to the retransmit timer.
func (t *Libp2pTransport) Send(ctx context.Context, dest trcb.ActorID, frame []byte) error {
	p, err := peerOf(dest)
	if err != nil {
		return fmt.Errorf("%w: %s", trcb.ErrUnknownPeer, err)
	}

	stream, err := t.host.NewStream(ctx, p, t.protocolID)
	if err != nil {
		return fmt.Errorf("trcb/transport: opening stream: %w", err)
	}
	defer stream.Close()

	if dl, ok := ctx.Deadline(); ok {
		if err := stream.SetDeadline(dl); err != nil {
			t.log.WarnContext(ctx, "setting stream deadline", "err", err)
		}
	}

	if _, err := stream.Write(frame); err != nil {
		return fmt.Errorf("trcb/transport: writing frame: %w", err)
	}
	return stream.CloseWrite()
}

// receiveStream reads a complete frame off an inbound stream and hands it to the
// receiver. The remote peer.ID forms the "from" ActorID via NewActorID with a zero
// sequence number: the transport cannot know the remote's own sequence counter, only
// its host identity, and OnFrame's from parameter is documented as advisory.
func (t *Libp2pTransport) receiveStream(s network.Stream) error {
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		return fmt.Errorf("trcb/transport: reading frame: %w", err)
	}

	frame, err := trcb.UnmarshalFrame(data)
	if err != nil {
		return err
	}

	from := NewActorID(s.Conn().RemotePeer(), 0)
	t.recv.OnFrame(context.Background(), from, frame)
	return nil
}
