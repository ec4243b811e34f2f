package network

import (
	"testing"

	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/simrand"
)

func TestRegionAssignmentCoversEveryNode(t *testing.T) {
	rng := simrand.New(1)
	top := NewTopology(rng, 1000, DefaultGossipFanout)
	for n := 0; n < 1000; n++ {
		r := top.Region(rbtypes.NodeID(n))
		if r < 0 || r >= RegionCount {
			t.Fatalf("node %d assigned invalid region %d", n, r)
		}
	}
}

func TestPeerListSizeWithinBounds(t *testing.T) {
	rng := simrand.New(2)
	top := NewTopology(rng, 500, DefaultGossipFanout)
	for n := 0; n < 500; n++ {
		peers := top.Peers(rbtypes.NodeID(n))
		if len(peers) < MinPeers || len(peers) > MaxPeers {
			t.Fatalf("node %d has %d peers, want [%d,%d]", n, len(peers), MinPeers, MaxPeers)
		}
		seen := map[uint32]bool{}
		for _, p := range peers {
			if uint32(p) == uint32(n) {
				t.Fatalf("node %d lists itself as a peer", n)
			}
			if seen[uint32(p)] {
				t.Fatalf("node %d has duplicate peer %d", n, p)
			}
			seen[uint32(p)] = true
		}
	}
}

func TestSmallPopulationUsesAllOtherNodesAsPeers(t *testing.T) {
	rng := simrand.New(3)
	top := NewTopology(rng, 5, DefaultGossipFanout)
	for n := 0; n < 5; n++ {
		if len(top.Peers(rbtypes.NodeID(n))) != 4 {
			t.Fatalf("with only 5 nodes, node %d should peer with all 4 others, got %d", n, len(top.Peers(rbtypes.NodeID(n))))
		}
	}
}

func TestTransmissionDelayNilRNGReturnsRawMean(t *testing.T) {
	rng := simrand.New(4)
	top := NewTopology(rng, 10, DefaultGossipFanout)
	d1 := top.TransmissionDelay(nil, 0, 1)
	d2 := top.TransmissionDelay(nil, 0, 1)
	if d1 != d2 {
		t.Fatalf("nil-rng transmission delay should be deterministic: %v != %v", d1, d2)
	}
	if want := rbtypes.SimTime(latencies[top.Region(0)][top.Region(1)]); d1 != want {
		t.Fatalf("nil-rng transmission delay = %v, want the region pair's raw mean %v", d1, want)
	}
}

func TestGossipFullBroadcastWhenSenderIsMiner(t *testing.T) {
	rng := simrand.New(5)
	top := NewTopology(rng, 200, 10) // small fanout
	sender := rbtypes.NodeID(0)
	deliveries := top.Gossip(rng, sender, sender, 0)
	if len(deliveries) != len(top.Peers(sender)) {
		t.Fatalf("sender==miner should broadcast to every peer: got %d, want %d", len(deliveries), len(top.Peers(sender)))
	}
}

func TestGossipFanoutSubsetWhenSenderIsNotMiner(t *testing.T) {
	rng := simrand.New(6)
	top := NewTopology(rng, 200, 10)
	sender := rbtypes.NodeID(0)
	miner := rbtypes.NodeID(1)
	deliveries := top.Gossip(rng, sender, miner, 0)
	if len(deliveries) != 10 {
		t.Fatalf("expected fanout-bounded subset of size 10, got %d", len(deliveries))
	}
	seen := map[uint32]bool{}
	for _, d := range deliveries {
		if seen[uint32(d.Receiver)] {
			t.Fatalf("duplicate receiver %d in gossip subset", d.Receiver)
		}
		seen[uint32(d.Receiver)] = true
	}
}

func TestGossipZeroFanoutAlwaysBroadcasts(t *testing.T) {
	rng := simrand.New(7)
	top := NewTopology(rng, 200, 0)
	sender := rbtypes.NodeID(0)
	miner := rbtypes.NodeID(1)
	deliveries := top.Gossip(rng, sender, miner, 0)
	if len(deliveries) != len(top.Peers(sender)) {
		t.Fatalf("fanout=0 should broadcast to every peer: got %d, want %d", len(deliveries), len(top.Peers(sender)))
	}
}
