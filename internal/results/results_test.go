package results

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rblocksim/rblocksim/internal/attack"
	"github.com/rblocksim/rblocksim/internal/config"
	"github.com/rblocksim/rblocksim/internal/stats"
)

func testConfig() *config.Config {
	cfg, err := config.Build(config.Flags{
		AttackType: "selfish", AttackTypeSet: true,
	})
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestDirectoryAutoIncrements(t *testing.T) {
	base := t.TempDir()
	cfg := testConfig()

	first, err := Directory(base, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Directory(base, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected a distinct directory on the second call, got %q twice", first)
	}
	for _, dir := range []string{first, second} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %q to exist as a directory", dir)
		}
	}
}

func TestWriteSelfishAggregateRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")

	perNode := []stats.SelfishStats{
		{AttackerBlocksInMainChain: 3, TotalBlocksInMainChain: 10, TotalBlocksMined: 4, OwnBlocksInMainChain: 7, SwitchesToSelfishChain: 1},
	}
	if err := WriteSelfishAggregate(path, perNode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}
	var doc struct {
		Header []string  `json:"header"`
		Data   [][]int   `json:"data"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}
	if len(doc.Header) != 5 {
		t.Fatalf("expected 5 header columns, got %d", len(doc.Header))
	}
	if len(doc.Data) != 1 || doc.Data[0][0] != 3 {
		t.Fatalf("unexpected data rows: %v", doc.Data)
	}
}

func TestWriteDetailedAggregateRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detailed.json")

	perNode := []stats.DetailedStats{
		{
			BlockStats:      []stats.BlockStat{{Miner: 1, Height: 2, ReceivedTime: 1.5}},
			MinedBlockStats: []stats.MinedBlockStat{{Miner: 0, Height: 1, MinedTime: 0.5}},
		},
		{},
	}
	if err := WriteDetailedAggregate(path, perNode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}
	var doc struct {
		Nodes []struct {
			Node     int                    `json:"node"`
			Received []stats.BlockStat      `json:"received"`
			Mined    []stats.MinedBlockStat `json:"mined"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}
	if len(doc.Nodes) != 2 {
		t.Fatalf("expected 2 node entries, got %d", len(doc.Nodes))
	}
	if len(doc.Nodes[0].Received) != 1 || doc.Nodes[0].Received[0].Miner != 1 {
		t.Fatalf("unexpected received records: %+v", doc.Nodes[0].Received)
	}
}

func TestWriteAttackMetadata(t *testing.T) {
	dir := t.TempDir()
	cfg := attack.Config{Type: attack.SelfishMining, Selfish: attack.SelfishConfig{HashPowerPortion: 0.34, Depth: 2, CatchupTolerance: 1}}
	rt := attack.NewRuntime()
	rt.FailedAttacks = 2
	rt.SuccessfulConceals = 5

	if err := WriteAttackMetadata(dir, cfg, 42, rt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "attack_info.json"))
	if err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}
	var meta AttackMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}
	if meta.Attacker != 42 || meta.FailedAttacks != 2 || meta.SuccessfulConceals != 5 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}
