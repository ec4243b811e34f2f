// Package network models the gossip topology: geographic regions,
// per-region-pair latency, peer lists, and the fanout-bounded gossip
// propagation algorithm. Grounded on
// original_source/RBlockSim/src/Network.c and Topology.h.
package network

import (
	"fmt"

	"github.com/rblocksim/rblocksim/internal/bitset"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/simrand"
)

// RegionCount is the number of geographic regions nodes are distributed
// across (Config.h REGIONS_NUM).
const RegionCount = 6

// MinPeers and MaxPeers bound the size of a node's randomly generated peer
// list (Topology.h MIN_PEERS / MAX_PEERS).
const (
	MinPeers = 40
	MaxPeers = 120
)

// DefaultGossipFanout is the default number of peers a node forwards a
// newly-seen block to; 0 means "forward to all peers" (Config.h
// GOSSIP_FANOUT).
const DefaultGossipFanout = 80

// regionDistribution is the fraction of nodes placed in each region, from
// Config.c's REGIONS_DISTRIBUTION (NodeTracker + Archive 2019 dataset). The
// last region absorbs the remainder so the total always equals the node
// count exactly.
var regionDistribution = [RegionCount]float64{0.476, 0.222, 0, 0.297, 0.005, 0}

// latencies[i][j] is the mean one-hop transmission delay, in seconds,
// between region i and region j (Config.c LATENCIES).
var latencies = [RegionCount][RegionCount]float64{
	{0.032, 0.124, 0.184, 0.198, 0.151, 0.189},
	{0.124, 0.011, 0.227, 0.237, 0.252, 0.294},
	{0.184, 0.227, 0.088, 0.325, 0.301, 0.322},
	{0.198, 0.237, 0.325, 0.085, 0.058, 0.198},
	{0.151, 0.252, 0.301, 0.058, 0.012, 0.126},
	{0.189, 0.294, 0.322, 0.198, 0.126, 0.016},
}

// Topology holds each node's region assignment and peer list, generated
// once at startup from the node count.
type Topology struct {
	nodeCount    int
	region       []int
	peers        [][]rbtypes.NodeID
	gossipFanout int
}

// NewTopology builds a Topology for nodeCount nodes: region membership
// follows regionDistribution, peer lists are a random Erdos-Renyi-style
// sample sized between MinPeers and MaxPeers. Grounded on initNetwork in
// Network.c (region assignment) and the (data-only, never populated by
// code in the retrieved source) Topology.h peer_lists contract, for which
// the generation policy is this module's own addition — see SPEC_FULL.md
// §4.9.
func NewTopology(rng *simrand.Source, nodeCount, gossipFanout int) *Topology {
	t := &Topology{
		nodeCount:    nodeCount,
		region:       make([]int, nodeCount),
		peers:        make([][]rbtypes.NodeID, nodeCount),
		gossipFanout: gossipFanout,
	}
	t.assignRegions()
	t.generatePeers(rng)
	return t
}

func (t *Topology) assignRegions() {
	counts := make([]int, RegionCount)
	assigned := 0
	for i := 0; i < RegionCount-1; i++ {
		counts[i] = int(float64(t.nodeCount) * regionDistribution[i])
		assigned += counts[i]
	}
	counts[RegionCount-1] = t.nodeCount - assigned

	node := 0
	for region, n := range counts {
		for i := 0; i < n && node < t.nodeCount; i++ {
			t.region[node] = region
			node++
		}
	}
}

// generatePeers draws, for each node, a random peer-list size in
// [MinPeers, MaxPeers] (capped at nodeCount-1; populations of at most
// MinPeers+1 nodes peer every node with all others) and a random sample of
// distinct peers, mirroring the uniform sampling discipline gossipBlock
// itself uses for fanout selection.
func (t *Topology) generatePeers(rng *simrand.Source) {
	for n := 0; n < t.nodeCount; n++ {
		size := MinPeers
		if t.nodeCount-1 > MinPeers {
			hi := MaxPeers
			if hi > t.nodeCount-1 {
				hi = t.nodeCount - 1
			}
			size = rng.IntRange(MinPeers, hi)
		} else {
			size = t.nodeCount - 1
		}
		if size < 0 {
			size = 0
		}

		selected := bitset.New(t.nodeCount)
		selected.Set(n)
		peers := make([]rbtypes.NodeID, 0, size)
		for len(peers) < size {
			cand := rng.IntRange(0, t.nodeCount-1)
			if selected.Check(cand) {
				continue
			}
			selected.Set(cand)
			peers = append(peers, rbtypes.NodeID(cand))
		}
		t.peers[n] = peers
	}
}

// Region returns the geographic region a node was assigned to.
func (t *Topology) Region(node rbtypes.NodeID) int {
	if int(node) >= len(t.region) {
		panic(fmt.Sprintf("network: node %d has no region assignment", node))
	}
	return t.region[node]
}

// Peers returns node's peer list.
func (t *Topology) Peers(node rbtypes.NodeID) []rbtypes.NodeID {
	return t.peers[node]
}

// TransmissionDelay returns the one-hop delay from sender to receiver. With
// rng nil it returns the region pair's raw mean latency (used for
// deterministic queries such as transaction delivery times); with rng non-nil it draws from an exponential
// distribution around that mean, matching getTransmissionDelay in
// Network.c.
func (t *Topology) TransmissionDelay(rng *simrand.Source, sender, receiver rbtypes.NodeID) rbtypes.SimTime {
	mean := latencies[t.Region(sender)][t.Region(receiver)]
	if rng == nil {
		return rbtypes.SimTime(mean)
	}
	return rbtypes.SimTime(rng.Exponential(mean))
}

// Delivery is one scheduled block delivery produced by Gossip.
type Delivery struct {
	Receiver rbtypes.NodeID
	At       rbtypes.SimTime
}

// Gossip computes the set of peers a node relays a block to and their
// delivery times, implementing gossipBlock's fanout policy from Network.c:
// broadcast to every peer when fanout is disabled, peers are too few to
// bother sampling, or the sender is the block's own miner; otherwise select
// a random, distinct subset of size fanout by rejection sampling.
func (t *Topology) Gossip(rng *simrand.Source, sender, miner rbtypes.NodeID, sendTime rbtypes.SimTime) []Delivery {
	peers := t.peers[sender]
	if t.gossipFanout == 0 || len(peers) <= t.gossipFanout || miner == sender {
		out := make([]Delivery, len(peers))
		for i, p := range peers {
			out[i] = Delivery{Receiver: p, At: sendTime + t.TransmissionDelay(rng, sender, p)}
		}
		return out
	}

	selected := bitset.New(len(peers))
	out := make([]Delivery, 0, t.gossipFanout)
	for len(out) < t.gossipFanout {
		idx := rng.IntRange(0, len(peers)-1)
		if selected.Check(idx) {
			continue
		}
		selected.Set(idx)
		p := peers[idx]
		out = append(out, Delivery{Receiver: p, At: sendTime + t.TransmissionDelay(rng, sender, p)})
	}
	return out
}
