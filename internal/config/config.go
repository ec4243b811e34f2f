// Package config validates and assembles a run's Config from CLI flags.
// Grounded on handle_options in original_source/RBlockSim/src/RBlockSim.c:
// the same flag compatibility rules (attacker hash power requires an attack
// type, catchup tolerance must fit the retained window, selfish-only knobs
// reject a 51% attack, ...) are reproduced here as Go errors instead of
// fprintf+exit(1), per the configuration-error handling class (spec.md §7).
package config

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/rblocksim/rblocksim/internal/attack"
	"github.com/rblocksim/rblocksim/internal/chain"
	"github.com/rblocksim/rblocksim/internal/network"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/stats"
)

// Defaults, from Config.c and Attacks.h.
const (
	DefaultNodes           = 1000
	DefaultBlockInterval   = 13.0
	DefaultTerminationTime = rbtypes.SimTime(60 * 60 * 24)
	DefaultTxnCount        = 500000
	DefaultGossipFanout    = network.DefaultGossipFanout
	DefaultRNGSeed         = 1234
)

// Flags is the raw, unvalidated set of CLI inputs, one field per flag in
// handle_options's getopt string "a:c:d:h:i:o:r:s:w:".
type Flags struct {
	Threads          int
	ThreadsSet       bool
	BlockInterval    float64
	BlockIntervalSet bool
	AttackType       string
	AttackTypeSet    bool
	HashPower        float64
	HashPowerSet     bool
	Depth            uint64
	DepthSet         bool
	CatchupTolerance uint64
	CatchupSet       bool
	StartTime        float64
	StartTimeSet     bool
	Output           string
	OutputSet        bool
	Seed             uint64
	SeedSet          bool
}

// Config is the fully validated, ready-to-run simulation configuration.
type Config struct {
	Nodes           int
	Threads         int
	BlockInterval   float64
	TerminationTime rbtypes.SimTime
	GossipFanout    int
	TxnCount        int
	RNGSeed         int64
	Attack          attack.Config
	StatsMode       stats.Mode
	OutputFile      string
}

// statsExtension is appended to -o's filename when it doesn't already carry
// it, mirroring RBlockSim.c's stats_extension "_%07d.json" handling
// (simplified here to a plain ".json" suffix check).
const statsExtension = ".json"

// Build validates f and produces a Config, or an error describing exactly
// which flag combination is invalid — the Go counterpart of handle_options's
// fprintf+exit(EXIT_FAILURE) paths.
func Build(f Flags) (*Config, error) {
	cfg := &Config{
		Nodes:           DefaultNodes,
		Threads:         0,
		BlockInterval:   DefaultBlockInterval,
		TerminationTime: DefaultTerminationTime,
		GossipFanout:    DefaultGossipFanout,
		TxnCount:        DefaultTxnCount,
		RNGSeed:         DefaultRNGSeed,
		// Detailed is the default statistics mode absent an attack, matching
		// RBlockSim.c's STATS_DETAILED default; -a 51|selfish below switches
		// it to Selfish.
		StatsMode: stats.Detailed,
	}

	if f.ThreadsSet {
		cfg.Threads = f.Threads
	}
	if f.BlockIntervalSet {
		cfg.BlockInterval = f.BlockInterval
	}
	if f.SeedSet {
		cfg.RNGSeed = int64(f.Seed)
	}

	if f.AttackTypeSet {
		switch strings.ToLower(f.AttackType) {
		case "51":
			cfg.Attack.Type = attack.FiftyOne
			cfg.StatsMode = stats.Selfish
		case "selfish":
			cfg.Attack.Type = attack.SelfishMining
			cfg.StatsMode = stats.Selfish
		default:
			return nil, errors.Errorf("unknown attack type %q (expected \"51\" or \"selfish\")", f.AttackType)
		}
	}

	if err := applyHashPower(cfg, f); err != nil {
		return nil, err
	}
	if err := applyCatchupTolerance(cfg, f); err != nil {
		return nil, err
	}
	if err := applyDepth(cfg, f); err != nil {
		return nil, err
	}
	if err := applyStartTime(cfg, f); err != nil {
		return nil, err
	}
	applyDefaultAttackParams(cfg, f)

	if f.OutputSet {
		cfg.OutputFile = withStatsExtension(f.Output)
	}

	return cfg, nil
}

func applyHashPower(cfg *Config, f Flags) error {
	if !f.HashPowerSet {
		return nil
	}
	if f.HashPower < 0.0 || f.HashPower > 1.0 {
		return errors.Errorf("invalid attacker hash power %f: must be between 0.0 and 1.0", f.HashPower)
	}
	switch cfg.Attack.Type {
	case attack.FiftyOne:
		cfg.Attack.FiftyOne.HashPowerPortion = f.HashPower
	case attack.SelfishMining:
		cfg.Attack.Selfish.HashPowerPortion = f.HashPower
	default:
		return errors.New("attacker hash power specified, but no attack selected (-a 51|selfish)")
	}
	return nil
}

func applyCatchupTolerance(cfg *Config, f Flags) error {
	if !f.CatchupSet {
		switch cfg.Attack.Type {
		case attack.FiftyOne:
			cfg.Attack.FiftyOne.CatchupTolerance = attack.DefaultCatchupTolerance
		case attack.SelfishMining:
			cfg.Attack.Selfish.CatchupTolerance = attack.DefaultCatchupTolerance
		}
		return nil
	}
	if f.CatchupTolerance > chain.DepthToKeep {
		return errors.Errorf("invalid catchup tolerance %d: must be at most %d", f.CatchupTolerance, chain.DepthToKeep)
	}
	switch cfg.Attack.Type {
	case attack.FiftyOne:
		cfg.Attack.FiftyOne.CatchupTolerance = f.CatchupTolerance
	case attack.SelfishMining:
		cfg.Attack.Selfish.CatchupTolerance = f.CatchupTolerance
	default:
		return errors.New("catchup tolerance specified, but no attack selected (-a 51|selfish)")
	}
	return nil
}

func applyDepth(cfg *Config, f Flags) error {
	if !f.DepthSet {
		return nil
	}
	switch cfg.Attack.Type {
	case attack.FiftyOne:
		return errors.New("attack depth specified, but the 51% attack does not use it")
	case attack.SelfishMining:
		cfg.Attack.Selfish.Depth = f.Depth
	default:
		return errors.New("attack depth specified, but no attack selected (-a 51|selfish)")
	}
	return nil
}

func applyStartTime(cfg *Config, f Flags) error {
	if !f.StartTimeSet {
		return nil
	}
	if f.StartTime < 0.0 {
		return errors.Errorf("invalid start time %f: must be >= 0.0", f.StartTime)
	}
	switch cfg.Attack.Type {
	case attack.SelfishMining:
		cfg.Attack.Selfish.StartTime = rbtypes.SimTime(f.StartTime)
	case attack.FiftyOne:
		// Warn-only in the original; the 51% attack ignores start time entirely.
	default:
		return errors.New("attack start time specified, but no attack selected (-a 51|selfish)")
	}
	return nil
}

// applyDefaultAttackParams fills in any attack parameter the user didn't
// supply explicitly, after the attack type itself is known. Gated on f's
// *Set flags rather than on the zero value, so an explicit "-h 0", "-d 0",
// or "-s 0" is honored instead of being clobbered back to the default —
// mirroring the C original's opt_hashpower/opt_start_time sentinels
// (RBlockSim.c:412, :485) and depth_set flag (RBlockSim.c:466).
func applyDefaultAttackParams(cfg *Config, f Flags) {
	switch cfg.Attack.Type {
	case attack.FiftyOne:
		if !f.HashPowerSet {
			cfg.Attack.FiftyOne.HashPowerPortion = attack.DefaultFiftyOneHashPower
		}
	case attack.SelfishMining:
		if !f.HashPowerSet {
			cfg.Attack.Selfish.HashPowerPortion = attack.DefaultSelfishHashPower
		}
		if !f.DepthSet {
			cfg.Attack.Selfish.Depth = attack.DefaultSelfishDepth
		}
		if !f.StartTimeSet {
			cfg.Attack.Selfish.StartTime = attack.DefaultSelfishStartTime
		}
	}
}

func withStatsExtension(name string) string {
	if strings.EqualFold(filepath.Ext(name), statsExtension) {
		return name
	}
	return name + statsExtension
}
