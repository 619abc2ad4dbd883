// Command trcb-demo runs a single TRCB node over libp2p, broadcasting a message
// every --broadcast-interval and logging every delivery. Peers are a static,
// operator-supplied list (membership discovery is out of this module's scope);
// pass --peer once per remote multiaddr.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/flowmesh/trcb"
	"github.com/flowmesh/trcb/broadcast"
	"github.com/flowmesh/trcb/transport"
)

type peerList []string

func (p *peerList) String() string     { return fmt.Sprint(*p) }
func (p *peerList) Set(s string) error { *p = append(*p, s); return nil }

var (
	peers               peerList
	deliverLocally      bool
	checkResendInterval time.Duration
	resendAfter         time.Duration
	broadcastInterval   time.Duration
	listenAddr          string
)

func init() {
	flag.Var(&peers, "peer", "Multiaddr of a peer to broadcast to and forward for (repeatable)")
	flag.BoolVar(&deliverLocally, "deliver-locally", false,
		"Invoke the delivery handler synchronously for this node's own broadcasts")
	flag.DurationVar(&checkResendInterval, "check-resend-interval", 5*time.Second,
		"How often outstanding acknowledgements are scanned for resend")
	flag.DurationVar(&resendAfter, "resend-after", 10*time.Second,
		"Age threshold after which an unacknowledged cast is resent")
	flag.DurationVar(&broadcastInterval, "broadcast-interval", 0,
		"If non-zero, broadcast a demo message on this interval")
	flag.StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/udp/0/quic-v1", "Listen multiaddr")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelInfo)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	listenMAddr, err := multiaddr.NewMultiaddr(listenAddr)
	if err != nil {
		return fmt.Errorf("parsing -listen: %w", err)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	host, err := libp2p.New(libp2p.Identity(priv), libp2p.ListenAddrs(listenMAddr))
	if err != nil {
		return fmt.Errorf("starting libp2p host: %w", err)
	}
	defer host.Close()

	self := transport.NewActorID(host.ID(), 0)
	slog.Info("identity", "actor", self, "host", host.ID())
	for _, addr := range host.Addrs() {
		slog.Info("listening", "addr", fmt.Sprintf("%s/p2p/%s", addr, host.ID()))
	}

	cfg := trcb.Config{
		DeliverLocally:      deliverLocally,
		CheckResendInterval: checkResendInterval,
		ResendAfter:         resendAfter,
	}

	node, err := broadcast.New(self, nil, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}

	tr := transport.New(host, node, slog.Default())
	tr.Start()
	defer tr.Stop()
	node.SetTransport(tr)

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	defer node.Stop(context.Background()) //nolint:errcheck

	if err := node.SetDeliveryHandler(ctx, func(ts trcb.VClock, body []byte) error {
		slog.Info("delivered", "ts", ts.Key(), "body", string(body))
		return nil
	}); err != nil {
		return err
	}

	members, err := connectPeers(ctx, host)
	if err != nil {
		return err
	}
	if err := node.OnMembership(ctx, members); err != nil {
		return err
	}

	if broadcastInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	t := time.NewTicker(broadcastInterval)
	defer t.Stop()
	i := 0
	for {
		select {
		case <-t.C:
			i++
			body := []byte("demo-message-" + strconv.Itoa(i))
			ts, err := node.Broadcast(ctx, body)
			if err != nil {
				slog.Error("broadcast failed", "err", err)
				continue
			}
			slog.Info("broadcast", "ts", ts.Key())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectPeers dials every operator-supplied multiaddr and returns the ActorIDs
// derived from the remote host identities, which become this node's initial
// membership set.
func connectPeers(ctx context.Context, host hostConnector) ([]trcb.ActorID, error) {
	members := make([]trcb.ActorID, 0, len(peers))
	for _, addrStr := range peers {
		maddr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("parsing -peer %q: %w", addrStr, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("parsing -peer %q: %w", addrStr, err)
		}
		if err := host.Connect(ctx, *info); err != nil {
			return nil, fmt.Errorf("connecting to %q: %w", addrStr, err)
		}
		members = append(members, transport.NewActorID(info.ID, 0))
	}
	return members, nil
}

// hostConnector is the narrow slice of libp2p's host.Host used by connectPeers,
// declared locally so the function signature doesn't leak the full host.Host surface.
type hostConnector interface {
	Connect(context.Context, peer.AddrInfo) error
}
