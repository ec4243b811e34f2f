// Package results formats output paths and writes the end-of-run JSON
// reports. Grounded on formatStatsFolder/formatStatsFile and the final
// STATS_SELFISH dump loop in main() in
// original_source/RBlockSim/src/RBlockSim.c.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/rblocksim/rblocksim/internal/attack"
	"github.com/rblocksim/rblocksim/internal/config"
	"github.com/rblocksim/rblocksim/internal/rbtypes"
	"github.com/rblocksim/rblocksim/internal/stats"
)

// FolderName formats the auto-numbered results directory name for cfg,
// mirroring stats_folder_long's template
// "Results_sz%lu_w%lu_bi%lf_a%s_h%lf_c%u_d%u_rng%u_%d/".
func FolderName(cfg *config.Config, attemptNumber int) string {
	hashPower, catchup, depth := attackReportFields(cfg.Attack)
	return fmt.Sprintf("Results_sz%d_w%d_bi%f_a%s_h%f_c%d_d%d_rng%d_%d",
		cfg.Nodes, cfg.Threads, cfg.BlockInterval, cfg.Attack.Type, hashPower, catchup, depth, cfg.RNGSeed, attemptNumber)
}

// FileName formats the single-run stats filename, mirroring
// single_stats_filename's template.
func FileName(cfg *config.Config) string {
	hashPower, catchup, depth := attackReportFields(cfg.Attack)
	return fmt.Sprintf("stats_sz%d_w%d_bi%f_a%s_h%f_c%d_d%d_rng%d.json",
		cfg.Nodes, cfg.Threads, cfg.BlockInterval, cfg.Attack.Type, hashPower, catchup, depth, cfg.RNGSeed)
}

func attackReportFields(a attack.Config) (hashPower float64, catchup, depth uint64) {
	switch a.Type {
	case attack.FiftyOne:
		return a.FiftyOne.HashPowerPortion, a.FiftyOne.CatchupTolerance, 0
	case attack.SelfishMining:
		return a.Selfish.HashPowerPortion, a.Selfish.CatchupTolerance, a.Selfish.Depth
	default:
		return 0, 0, 0
	}
}

// Directory picks the next available, not-yet-existing results directory
// under base for cfg and creates it, mirroring main()'s access()/mkdir()
// auto-increment loop in RBlockSim.c.
func Directory(base string, cfg *config.Config) (string, error) {
	for attemptNumber := 0; ; attemptNumber++ {
		candidate := filepath.Join(base, FolderName(cfg, attemptNumber))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			if err := os.MkdirAll(candidate, 0o777); err != nil {
				return "", errors.Wrapf(err, "creating results directory %s", candidate)
			}
			return candidate, nil
		}
	}
}

// selfishStatsHeader is the fixed column order for the aggregate selfish
// stats dump, matching sprintSelfishStatsHeader in Statistics.c.
var selfishStatsHeader = []string{
	"attackerBlocksInMainChain",
	"totalBlocksInMainChain",
	"totalBlocksMined",
	"ownBlocksInMainChain",
	"switchesToSelfishChain",
}

// WriteSelfishAggregate writes every node's final SelfishStats as a single
// JSON document {"header": [...], "data": [[...], ...]}, one row per node
// in node-id order. Grounded on main()'s STATS_SELFISH dump loop.
func WriteSelfishAggregate(path string, perNode []stats.SelfishStats) error {
	rows := make([][]int, len(perNode))
	for i, s := range perNode {
		rows[i] = []int{
			s.AttackerBlocksInMainChain,
			s.TotalBlocksInMainChain,
			s.TotalBlocksMined,
			s.OwnBlocksInMainChain,
			s.SwitchesToSelfishChain,
		}
	}
	doc := struct {
		Header []string `json:"header"`
		Data   [][]int  `json:"data"`
	}{Header: selfishStatsHeader, Data: rows}

	return writeJSON(path, doc)
}

// detailedNode is one node's entry in a WriteDetailedAggregate document.
type detailedNode struct {
	Node     int                    `json:"node"`
	Received []stats.BlockStat      `json:"received"`
	Mined    []stats.MinedBlockStat `json:"mined"`
}

// WriteDetailedAggregate writes every node's received/mined block records,
// for runs with no attacker configured. Grounded on the STATS_DETAILED dump
// loop in main() (the default statistics mode absent an attack).
func WriteDetailedAggregate(path string, perNode []stats.DetailedStats) error {
	nodes := make([]detailedNode, len(perNode))
	for i, d := range perNode {
		nodes[i] = detailedNode{Node: i, Received: d.BlockStats, Mined: d.MinedBlockStats}
	}
	doc := struct {
		Nodes []detailedNode `json:"nodes"`
	}{Nodes: nodes}
	return writeJSON(path, doc)
}

// AttackMetadata is the per-attacker summary written to attack_info.json,
// matching attack_metadata_format in RBlockSim.c.
type AttackMetadata struct {
	AttackType          string         `json:"attack_type"`
	Attacker            rbtypes.NodeID `json:"attacker"`
	AttackerHashPower   float64        `json:"attacker_hashpower"`
	Depth               uint64         `json:"depth"`
	CatchupTolerance    uint64         `json:"catchup_tolerance"`
	FailedAttacks       uint64         `json:"failed_attacks"`
	SuccessfulConceals  uint64         `json:"successful_conceals"`
}

// WriteAttackMetadata writes the attacker's final runtime summary.
func WriteAttackMetadata(dir string, cfg attack.Config, attacker rbtypes.NodeID, rt *attack.Runtime) error {
	hashPower, catchup, depth := attackReportFields(cfg)
	meta := AttackMetadata{
		AttackType:         cfg.Type.String(),
		Attacker:           attacker,
		AttackerHashPower:  hashPower,
		Depth:              depth,
		CatchupTolerance:   catchup,
		FailedAttacks:      rt.FailedAttacks,
		SuccessfulConceals: rt.SuccessfulConceals,
	}
	return writeJSON(filepath.Join(dir, "attack_info.json"), meta)
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s for writing", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "encoding results to %s", path)
	}
	return nil
}
