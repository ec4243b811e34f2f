// Command rblocksim runs a single discrete-event simulation of a gossiping
// proof-of-work network and writes its statistics report.
//
// Grounded on main()/handle_options in
// original_source/RBlockSim/src/RBlockSim.c for the flag set and run
// sequence, and on the teacher's flag-driven main() in
// _examples/LarryRuane-minesim/minesim.go for the overall CLI shape.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rblocksim/rblocksim/internal/attack"
	"github.com/rblocksim/rblocksim/internal/config"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/results"
	"github.com/rblocksim/rblocksim/internal/simnode"
	"github.com/rblocksim/rblocksim/internal/simrand"
	"github.com/rblocksim/rblocksim/internal/stats"
)

// Exit codes, in the same spirit as siac's sysexits.h-inspired constants.
const (
	exitCodeGeneral = 1
	exitCodeUsage   = 64
)

// cliFlags mirrors config.Flags plus the extra knobs the original exposed
// only as compile-time constants (node count, termination time, transaction
// count, gossip fanout) but which are natural CLI flags in this module.
type cliFlags struct {
	threads          int
	blockInterval    float64
	attackType       string
	hashPower        float64
	depth            uint64
	catchupTolerance uint64
	startTime        float64
	output           string
	seed             uint64
	nodes            int
	termination      float64
	txnCount         int
	gossipFanout     int
	logLevel         string
}

func main() {
	var f cliFlags

	root := &cobra.Command{
		Use:   "rblocksim",
		Short: "Discrete-event simulator of a gossiping proof-of-work network",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f, cmd)
		},
		SilenceUsage: true,
	}

	fl := root.Flags()
	fl.IntVarP(&f.threads, "threads", "w", 0, "worker thread count (accepted, kernel runs serially)")
	fl.Float64VarP(&f.blockInterval, "interval", "i", config.DefaultBlockInterval, "expected block interval, in seconds")
	fl.StringVarP(&f.attackType, "attack", "a", "", `attack type: "51" or "selfish"`)
	fl.Float64VarP(&f.hashPower, "hashpower", "h", 0, "attacker's share of total hash power, in [0,1]")
	fl.Uint64VarP(&f.depth, "depth", "d", 0, "selfish mining concealment depth")
	fl.Uint64VarP(&f.catchupTolerance, "catchup", "c", 0, "attacker chain-selection catchup tolerance")
	fl.Float64VarP(&f.startTime, "start", "s", 0, "selfish mining attack start time, in seconds")
	fl.StringVarP(&f.output, "output", "o", "", "statistics output filename")
	fl.Uint64VarP(&f.seed, "seed", "r", config.DefaultRNGSeed, "RNG seed, for reproducible runs")
	fl.IntVarP(&f.nodes, "nodes", "n", config.DefaultNodes, "number of simulated nodes")
	fl.Float64Var(&f.termination, "termination", float64(config.DefaultTerminationTime), "simulation termination time, in seconds")
	fl.IntVar(&f.txnCount, "txns", config.DefaultTxnCount, "number of transactions to generate")
	fl.IntVar(&f.gossipFanout, "fanout", config.DefaultGossipFanout, "gossip fanout (0 forwards to every peer)")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeGeneral)
	}
}

func run(f cliFlags, cmd *cobra.Command) error {
	changed := cmd.Flags().Changed
	rawFlags := config.Flags{
		Threads:          f.threads,
		ThreadsSet:       changed("threads"),
		BlockInterval:    f.blockInterval,
		BlockIntervalSet: changed("interval"),
		AttackType:       f.attackType,
		AttackTypeSet:    changed("attack"),
		HashPower:        f.hashPower,
		HashPowerSet:     changed("hashpower"),
		Depth:            f.depth,
		DepthSet:         changed("depth"),
		CatchupTolerance: f.catchupTolerance,
		CatchupSet:       changed("catchup"),
		StartTime:        f.startTime,
		StartTimeSet:     changed("start"),
		Output:           f.output,
		OutputSet:        changed("output"),
		Seed:             f.seed,
		SeedSet:          changed("seed"),
	}

	cfg, err := config.Build(rawFlags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(exitCodeUsage)
	}
	cfg.Nodes = f.nodes
	cfg.TerminationTime = rbtypes.SimTime(f.termination)
	cfg.TxnCount = f.txnCount
	cfg.GossipFanout = f.gossipFanout

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(f.logLevel); err == nil {
		log.SetLevel(lvl)
	}

	var resultsDir string
	if cfg.StatsMode != stats.None {
		resultsDir, err = results.Directory(".", cfg)
		if err != nil {
			return err
		}
		log.WithField("dir", resultsDir).Info("statistics will be saved")
	}

	rng := simrand.New(cfg.RNGSeed)

	sim, err := simnode.New(cfg, rng, log)
	if err != nil {
		return err
	}

	if attackerID, _, ok := sim.Attacker(); ok {
		log.WithFields(logrus.Fields{
			"attacker": attackerID,
			"type":     cfg.Attack.Type.String(),
		}).Info("attacker elected")
	} else {
		log.Info("no attacker configured")
	}

	sim.Run()

	log.WithFields(logrus.Fields{
		"total_mined": sim.TotalMinedBlocks(),
		"height":      sim.State(rbtypes.NodeID(cfg.Nodes - 1)).Chain.Height,
	}).Info("simulation complete")

	if resultsDir == "" {
		return nil
	}

	name := results.FileName(cfg)
	if cfg.OutputFile != "" {
		name = cfg.OutputFile
	}
	path := resultsDir + "/" + name
	switch cfg.StatsMode {
	case stats.Selfish:
		perNode := make([]stats.SelfishStats, cfg.Nodes)
		for i := 0; i < cfg.Nodes; i++ {
			perNode[i] = sim.State(rbtypes.NodeID(i)).Stats.Selfish
		}
		if err := results.WriteSelfishAggregate(path, perNode); err != nil {
			return err
		}
		if attackerID, rt, ok := sim.Attacker(); ok && (cfg.Attack.Type == attack.SelfishMining || cfg.Attack.Type == attack.FiftyOne) {
			if err := results.WriteAttackMetadata(resultsDir, cfg.Attack, attackerID, rt); err != nil {
				return err
			}
		}
	case stats.Detailed:
		perNode := make([]stats.DetailedStats, cfg.Nodes)
		for i := 0; i < cfg.Nodes; i++ {
			perNode[i] = sim.State(rbtypes.NodeID(i)).Stats.Detailed
		}
		if err := results.WriteDetailedAggregate(path, perNode); err != nil {
			return err
		}
	}

	return nil
}
