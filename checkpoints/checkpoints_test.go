package checkpoints

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
)

var (
	hash0    = newHashFromStr("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	hash1000 = newHashFromStr("00000000c937983704a73af28acdec37b049d214adbda81d7e2a3dd146f6ed09")
	hashFake = newHashFromStr("0000000000000000000000000000000000000000000000000000000000000001")
	genesis  = newHashFromStr("0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206")
)

// testData mirrors the calibration scenario used across the progress tests:
// two pins, 25000 txs at the last one.
var testData = &checkpointData{
	checkpoints: []Checkpoint{
		{0, hash0},
		{1000, hash1000},
	},
	lastCheckpointTime:    1403925464,
	lastCheckpointTxCount: 25000,
	txPerDayAfter:         800.0,
}

func testGuard() *Guard {
	return &Guard{data: testData, enabled: true}
}

type fakeNode struct {
	height  uint32
	chainTx uint64
	time    int64
	main    bool
}

func (n *fakeNode) Height() uint32 { return n.height }

func (n *fakeNode) ChainTxCount() uint64 { return n.chainTx }

func (n *fakeNode) Timestamp() int64 { return n.time }

func (n *fakeNode) InMainChain() bool { return n.main }

type fakeIndex struct {
	nodes map[chainhash.Hash]*fakeNode
}

func (idx *fakeIndex) Node(hash *chainhash.Hash) IndexNode {
	if n, ok := idx.nodes[*hash]; ok {
		return n
	}
	return nil
}

func (idx *fakeIndex) GenesisHash() *chainhash.Hash {
	return genesis
}

func TestGuard_CheckBlock(t *testing.T) {
	g := testGuard()

	assert.True(t, g.CheckBlock(0, hash0))
	assert.True(t, g.CheckBlock(1000, hash1000))
	assert.False(t, g.CheckBlock(1000, hashFake))
	assert.False(t, g.CheckBlock(0, hash1000))

	// heights without a pin are unconstrained
	assert.True(t, g.CheckBlock(500, hashFake))
	assert.True(t, g.CheckBlock(999999, hashFake))
}

func TestGuard_CheckBlockDisabled(t *testing.T) {
	g := &Guard{data: testData, enabled: false}
	assert.True(t, g.CheckBlock(1000, hashFake))
	assert.Equal(t, uint32(0), g.TotalBlocksEstimate())
}

func TestGuard_CheckBlockTestNet(t *testing.T) {
	g := NewGuard(&chaincfg.TestNet3Params, true)
	assert.True(t, g.testNet)
	for _, cp := range g.data.checkpoints {
		assert.True(t, g.CheckBlock(cp.Height, hashFake))
	}
	assert.Equal(t, uint32(0), g.TotalBlocksEstimate())
	assert.Nil(t, g.LastCheckpoint(&fakeIndex{}))
}

func TestNewGuard_NetworkSelection(t *testing.T) {
	main := NewGuard(&chaincfg.MainNetParams, true)
	assert.False(t, main.testNet)
	assert.Equal(t, uint32(7387), main.TotalBlocksEstimate())
	assert.Equal(t, mainNetData.checkpoints[len(mainNetData.checkpoints)-1].Hash,
		main.LatestHardenedCheckpoint())

	test := NewGuard(&chaincfg.RegressionNetParams, true)
	assert.True(t, test.testNet)
	assert.Equal(t, testNetData, test.data)
}

func TestGuard_TotalBlocksEstimate(t *testing.T) {
	assert.Equal(t, uint32(1000), testGuard().TotalBlocksEstimate())
}

func TestGuard_GuessVerificationProgress(t *testing.T) {
	g := testGuard()
	cpTime := time.Unix(testData.lastCheckpointTime, 0)

	// no tip yet
	assert.Equal(t, 0.0, g.GuessVerificationProgress(time.Now(), nil))

	// tip exactly at the checkpoint, no time elapsed: nothing left to do
	tip := &fakeNode{chainTx: 25000, time: testData.lastCheckpointTime}
	assert.Equal(t, 1.0, g.GuessVerificationProgress(cpTime, tip))

	// tip before the checkpoint: 10000 cheap done, 15000 cheap left
	tip = &fakeNode{chainTx: 10000, time: testData.lastCheckpointTime}
	assert.InDelta(t, 0.4, g.GuessVerificationProgress(cpTime, tip), 1e-12)

	// tip past the checkpoint, caught up to now:
	// done = 25000 + 5000*5, nothing left
	tip = &fakeNode{chainTx: 30000, time: testData.lastCheckpointTime + 1000}
	assert.Equal(t, 1.0, g.GuessVerificationProgress(time.Unix(tip.time, 0), tip))

	// one day behind: 800 estimated txs left at factor 5
	now := time.Unix(tip.time+86400, 0)
	want := 50000.0 / (50000.0 + 800.0*5)
	assert.InDelta(t, want, g.GuessVerificationProgress(now, tip), 1e-12)
}

func TestGuard_LastCheckpoint(t *testing.T) {
	g := testGuard()

	// empty registry
	assert.Nil(t, g.LastCheckpoint(&fakeIndex{nodes: map[chainhash.Hash]*fakeNode{}}))

	// only the lower pin is indexed
	idx := &fakeIndex{nodes: map[chainhash.Hash]*fakeNode{
		*hash0: {height: 0, main: true},
	}}
	node := g.LastCheckpoint(idx)
	if assert.NotNil(t, node) {
		assert.Equal(t, uint32(0), node.Height())
	}

	// highest indexed pin wins
	idx.nodes[*hash1000] = &fakeNode{height: 1000, main: true}
	node = g.LastCheckpoint(idx)
	if assert.NotNil(t, node) {
		assert.Equal(t, uint32(1000), node.Height())
	}
}

func TestGuard_LastAvailableCheckpoint(t *testing.T) {
	g := testGuard()

	// nothing indexed: genesis fallback
	idx := &fakeIndex{nodes: map[chainhash.Hash]*fakeNode{}}
	assert.Equal(t, genesis, g.LastAvailableCheckpoint(idx))

	// indexed but orphaned pins don't qualify
	idx.nodes[*hash1000] = &fakeNode{height: 1000, main: false}
	assert.Equal(t, genesis, g.LastAvailableCheckpoint(idx))

	idx.nodes[*hash0] = &fakeNode{height: 0, main: true}
	assert.Equal(t, hash0, g.LastAvailableCheckpoint(idx))

	idx.nodes[*hash1000].main = true
	assert.Equal(t, hash1000, g.LastAvailableCheckpoint(idx))
}

func TestGuard_LatestHardenedCheckpoint(t *testing.T) {
	g := testGuard()
	// independent of registry state and the enable switch
	assert.Equal(t, hash1000, g.LatestHardenedCheckpoint())
	g.enabled = false
	assert.Equal(t, hash1000, g.LatestHardenedCheckpoint())
}
