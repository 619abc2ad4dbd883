package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/trcb"
)

// memNetwork is a fake trcb.Transport backing multiple Nodes in a single process,
// grounded on the mocknet-driven multi-node setup of rebro/gossip/broadcaster_test.go
// but simplified to a map-based router since these tests exercise the broadcast actor,
// not libp2p itself (that boundary is covered separately in transport/libp2p_test.go).
type memNetwork struct {
	mu        sync.Mutex
	receivers map[trcb.ActorID]trcb.Receiver
	drop      func(from, to trcb.ActorID, kind trcb.FrameKind) bool
}

func newMemNetwork() *memNetwork {
	return &memNetwork{receivers: make(map[trcb.ActorID]trcb.Receiver)}
}

func (n *memNetwork) register(id trcb.ActorID, r trcb.Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receivers[id] = r
}

type memTransport struct {
	self trcb.ActorID
	net  *memNetwork
}

func (t *memTransport) Send(ctx context.Context, peer trcb.ActorID, data []byte) error {
	t.net.mu.Lock()
	recv, ok := t.net.receivers[peer]
	drop := t.net.drop
	t.net.mu.Unlock()
	if !ok {
		return trcb.ErrUnknownPeer
	}

	frame, err := trcb.UnmarshalFrame(data)
	if err != nil {
		return err
	}
	if drop != nil && drop(t.self, peer, frame.Kind) {
		return nil
	}
	// Hand the frame off asynchronously, as a network would: Send is fire-and-forget,
	// so the sender's event loop must not wait for the receiver's to process it.
	go recv.OnFrame(context.Background(), t.self, frame)
	return nil
}

// testNode bundles a Node with a channel that records every delivery, for scenario
// assertions without sleeping on wall-clock guesses.
type testNode struct {
	id        trcb.ActorID
	node      *Node
	delivered chan delivery
}

type delivery struct {
	ts   trcb.VClock
	body string
}

func newTestNode(t *testing.T, net *memNetwork, id trcb.ActorID, cfg trcb.Config) *testNode {
	t.Helper()
	tr := &memTransport{self: id, net: net}
	n, err := New(id, tr, cfg, nil)
	require.NoError(t, err)

	tn := &testNode{id: id, node: n, delivered: make(chan delivery, 64)}
	net.register(id, n)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Stop(context.Background()) })

	err = n.SetDeliveryHandler(context.Background(), func(ts trcb.VClock, body []byte) error {
		tn.delivered <- delivery{ts: ts.Clone(), body: string(body)}
		return nil
	})
	require.NoError(t, err)
	return tn
}

func (tn *testNode) expectDelivery(t *testing.T, timeout time.Duration) delivery {
	t.Helper()
	select {
	case d := <-tn.delivered:
		return d
	case <-time.After(timeout):
		t.Fatalf("%s: timed out waiting for a delivery", tn.id)
		return delivery{}
	}
}

func (tn *testNode) expectNoDelivery(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case d := <-tn.delivered:
		t.Fatalf("%s: unexpected delivery %+v", tn.id, d)
	case <-time.After(within):
	}
}

func fullMesh(t *testing.T, nodes ...*testNode) {
	t.Helper()
	for _, n := range nodes {
		var peers []trcb.ActorID
		for _, other := range nodes {
			if other.id != n.id {
				peers = append(peers, other.id)
			}
		}
		require.NoError(t, n.node.OnMembership(context.Background(), peers))
	}
}

// Scenario 1 — two-node basic.
func TestTwoNodeBasicBroadcast(t *testing.T) {
	net := newMemNetwork()
	a := newTestNode(t, net, "A", trcb.Config{DeliverLocally: false})
	b := newTestNode(t, net, "B", trcb.Config{})
	fullMesh(t, a, b)

	ts, err := a.node.Broadcast(context.Background(), []byte("x"))
	require.NoError(t, err)

	d := b.expectDelivery(t, time.Second)
	require.Equal(t, "x", d.body)
	require.True(t, d.ts.Equal(ts))

	a.expectNoDelivery(t, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, err := a.node.Snapshot(context.Background())
		return err == nil && snap.OutstandingAcks == 0
	}, time.Second, 10*time.Millisecond)
}

// Scenario 2 — causal reordering: C receives {A:1,B:1} before {A:1} and must buffer
// "y" until "x" arrives, then drain both in causal order.
func TestCausalReorderingBuffersUntilCausalPredecessorArrives(t *testing.T) {
	net := newMemNetwork()
	c := newTestNode(t, net, "C", trcb.Config{})

	tsX := trcb.VClock{"A": 1}
	tsY := trcb.VClock{"A": 1, "B": 1}

	c.node.OnFrame(context.Background(), "B",
		trcb.NewCastFrame(trcb.Message{Origin: "B", Body: []byte("y"), Ts: tsY}, "B"))
	c.expectNoDelivery(t, 50*time.Millisecond)

	c.node.OnFrame(context.Background(), "A",
		trcb.NewCastFrame(trcb.Message{Origin: "A", Body: []byte("x"), Ts: tsX}, "A"))

	first := c.expectDelivery(t, time.Second)
	second := c.expectDelivery(t, time.Second)
	require.Equal(t, "x", first.body)
	require.Equal(t, "y", second.body)
}

// Scenario 3 — concurrent messages may be delivered in either order but exactly once.
func TestConcurrentMessagesDeliveredExactlyOnce(t *testing.T) {
	net := newMemNetwork()
	c := newTestNode(t, net, "C", trcb.Config{})

	c.node.OnFrame(context.Background(), "A",
		trcb.NewCastFrame(trcb.Message{Origin: "A", Body: []byte("x"), Ts: trcb.VClock{"A": 1}}, "A"))
	c.node.OnFrame(context.Background(), "B",
		trcb.NewCastFrame(trcb.Message{Origin: "B", Body: []byte("y"), Ts: trcb.VClock{"B": 1}}, "B"))

	first := c.expectDelivery(t, time.Second)
	second := c.expectDelivery(t, time.Second)
	bodies := map[string]bool{first.body: true, second.body: true}
	require.True(t, bodies["x"] && bodies["y"])

	snap, err := c.node.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), snap.VV.Get("A"))
	require.Equal(t, uint64(1), snap.VV.Get("B"))
}

// Scenario 4 — duplicate flood on a fully-connected three-node cluster: every receiver
// forwards to each member other than the sender and the origin, yet each node delivers
// the broadcast exactly once.
func TestDuplicateFloodDeliversOnce(t *testing.T) {
	net := newMemNetwork()
	a := newTestNode(t, net, "A", trcb.Config{})
	b := newTestNode(t, net, "B", trcb.Config{})
	c := newTestNode(t, net, "C", trcb.Config{})
	fullMesh(t, a, b, c)

	_, err := a.node.Broadcast(context.Background(), []byte("x"))
	require.NoError(t, err)

	db := b.expectDelivery(t, time.Second)
	dc := c.expectDelivery(t, time.Second)
	require.Equal(t, "x", db.body)
	require.Equal(t, "x", dc.body)

	b.expectNoDelivery(t, 150*time.Millisecond)
	c.expectNoDelivery(t, 150*time.Millisecond)
	a.expectNoDelivery(t, 150*time.Millisecond)
}

// Scenario 5 — retransmit: drop the first copy of every frame; after resend_after the
// frame is resent and acked.
func TestRetransmitRecoversFromDroppedFirstCopy(t *testing.T) {
	net := newMemNetwork()
	cfg := trcb.Config{CheckResendInterval: 20 * time.Millisecond, ResendAfter: 30 * time.Millisecond}
	a := newTestNode(t, net, "A", cfg)
	b := newTestNode(t, net, "B", cfg)
	fullMesh(t, a, b)

	seen := make(map[string]bool)
	var mu sync.Mutex
	net.drop = func(from, to trcb.ActorID, kind trcb.FrameKind) bool {
		mu.Lock()
		defer mu.Unlock()
		if kind != trcb.KindCast {
			return false
		}
		key := string(from) + ">" + string(to)
		if seen[key] {
			return false
		}
		seen[key] = true
		return true
	}

	_, err := a.node.Broadcast(context.Background(), []byte("x"))
	require.NoError(t, err)

	d := b.expectDelivery(t, 2*time.Second)
	require.Equal(t, "x", d.body)

	require.Eventually(t, func() bool {
		snap, err := a.node.Snapshot(context.Background())
		return err == nil && snap.OutstandingAcks == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// Scenario 6 — stability: after each of A, B, C broadcasts once and all deliveries
// complete, stable_filter([{A:1},{A:1,B:1}]) returns both once every node's latest
// observation from every peer covers both.
func TestStabilityAdvancesOnceEveryPeerHasObserved(t *testing.T) {
	net := newMemNetwork()
	a := newTestNode(t, net, "A", trcb.Config{})
	b := newTestNode(t, net, "B", trcb.Config{})
	c := newTestNode(t, net, "C", trcb.Config{})
	fullMesh(t, a, b, c)

	tsX, err := a.node.Broadcast(context.Background(), []byte("x"))
	require.NoError(t, err)
	b.expectDelivery(t, time.Second)
	c.expectDelivery(t, time.Second)

	tsY, err := b.node.Broadcast(context.Background(), []byte("y"))
	require.NoError(t, err)
	a.expectDelivery(t, time.Second)
	c.expectDelivery(t, time.Second)

	_, err = c.node.Broadcast(context.Background(), []byte("z"))
	require.NoError(t, err)
	a.expectDelivery(t, time.Second)
	b.expectDelivery(t, time.Second)

	// A's own row of the timestamp matrix advances only when A broadcasts, so A
	// broadcasts once more to bring every row at A up to {A:1,B:1}.
	_, err = a.node.Broadcast(context.Background(), []byte("w"))
	require.NoError(t, err)
	b.expectDelivery(t, time.Second)
	c.expectDelivery(t, time.Second)

	require.Eventually(t, func() bool {
		stable, err := a.node.StableFilter(context.Background(), []trcb.VClock{tsX, tsY})
		return err == nil && len(stable) == 2
	}, time.Second, 10*time.Millisecond)
}
