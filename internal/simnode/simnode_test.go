package simnode

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/rblocksim/rblocksim/internal/attack"
	"github.com/rblocksim/rblocksim/internal/config"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/simrand"
)

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Build(config.Flags{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Nodes = 20
	cfg.TerminationTime = 200
	cfg.TxnCount = 100
	cfg.GossipFanout = 0 // broadcast: every peer sees every block
	cfg.BlockInterval = 5
	return cfg
}

func TestRunProducesMinedBlocksAndEveryNodeAdvances(t *testing.T) {
	cfg := baseConfig(t)
	rng := simrand.New(1)
	sim, err := New(cfg, rng, silentLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sim.Run()

	if sim.TotalMinedBlocks() == 0 {
		t.Fatalf("expected at least one block to be mined over 200s at interval 5s across 20 nodes")
	}
	for n := 0; n < cfg.Nodes; n++ {
		st := sim.State(rbtypes.NodeID(n))
		if st == nil {
			t.Fatalf("node %d has no final state", n)
		}
		if st.Chain.Height == 0 {
			t.Fatalf("node %d main chain never advanced past genesis", n)
		}
	}
}

func TestRunIsDeterministicForTheSameSeed(t *testing.T) {
	run := func(seed int64) uint64 {
		rng := simrand.New(seed)
		cfg := baseConfig(t)
		cfg.RNGSeed = seed
		sim, err := New(cfg, rng, silentLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sim.Run()
		return sim.TotalMinedBlocks()
	}

	a := run(7)
	b := run(7)
	if a != b {
		t.Fatalf("same seed produced different total mined blocks: %d != %d", a, b)
	}
}

func TestNoAttackerConfiguredWhenAttackTypeIsNone(t *testing.T) {
	cfg := baseConfig(t)
	rng := simrand.New(3)
	sim, err := New(cfg, rng, silentLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, ok := sim.Attacker(); ok {
		t.Fatalf("no attack was configured; Attacker() should report ok=false")
	}
}

func TestAttackerElectedWhenSelfishMiningConfigured(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Attack = attack.Config{
		Type: attack.SelfishMining,
		Selfish: attack.SelfishConfig{
			HashPowerPortion: 0.3,
			Depth:            2,
			CatchupTolerance: 1,
			StartTime:        0,
		},
	}
	rng := simrand.New(5)
	sim, err := New(cfg, rng, silentLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, rt, ok := sim.Attacker()
	if !ok {
		t.Fatalf("expected an attacker to be elected")
	}
	if rt == nil {
		t.Fatalf("expected a non-nil attacker runtime")
	}
	if int(id) >= cfg.Nodes {
		t.Fatalf("elected attacker id %d out of range", id)
	}

	sim.Run()
	// The attacker's state should reflect its special selector and role.
	st := sim.State(id)
	if !st.IsAttacker {
		t.Fatalf("elected node's own state should be marked IsAttacker")
	}
}

func TestHashPowerPortionsSumCloseToOneAmongHonestNodes(t *testing.T) {
	cfg := baseConfig(t)
	rng := simrand.New(9)
	sim, err := New(cfg, rng, silentLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sim.Run()

	var total float64
	for n := 0; n < cfg.Nodes; n++ {
		total += sim.State(rbtypes.NodeID(n)).hashPowerPortion
	}
	if total < 0.99 || total > 1.01 {
		t.Fatalf("hash power portions should sum to ~1.0 with no attack configured, got %f", total)
	}
}
