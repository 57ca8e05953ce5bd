package checkpoints

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// sigcheckVerificationFactor is how many times slower we expect to process a
// transaction after the last checkpoint compared to one before it. It can't
// be accurate for every system: reindexing from a fast disk with a slow CPU
// it can be up to 20, while downloading from a slow network with a fast
// multicore CPU it won't be much higher than 1.
const sigcheckVerificationFactor = 5.0

const secondsPerDay = 86400.0

// Checkpoint pins the hash a block at the given height must have on the
// main chain.
type Checkpoint struct {
	Height uint32
	Hash   *chainhash.Hash
}

type checkpointData struct {
	// checkpoints is sorted by height, heights and hashes both unique.
	checkpoints []Checkpoint

	// Calibration for the verification progress estimate: unix time of the
	// last checkpoint block, total transactions up to it, and the expected
	// transaction rate after it.
	lastCheckpointTime    int64
	lastCheckpointTxCount uint64
	txPerDayAfter         float64
}

var mainNetData = &checkpointData{
	checkpoints: []Checkpoint{
		{0, newHashFromStr("00000076d84c62af64353f3b59d8515191ee9f27e56d9c8422b1964aa6d16715")},
		{1000, newHashFromStr("00000dd11391efd43db7bbbe1de4c07cd82ec207b4074464256bc4d9deaa18c4")},
		{2000, newHashFromStr("0000002f154e014512f4e621aef1af30f38fe2f2de995819877468a432067dce")},
		{3000, newHashFromStr("000000002cb5bc53bfd466f66a61a6437a7bfdd490e7c75637bf190f0329c6a4")},
		{4000, newHashFromStr("000000001a14bd8ddaff31c518af4734183f5f45ddc3ccd8eb05531f0e8358a6")},
		{5000, newHashFromStr("00000000626014b6a0ff0895f586c99d6fdf4a1b9e61f58fac1280c6b8b1a159")},
		{6000, newHashFromStr("0000000012ab31fbdf4d7ca8bbf12cc63aaa19c4bc6f71fc49690ce0d2847902")},
		{7000, newHashFromStr("000000000083394cff579c43017e58108f1e762e66cbd77b207aec198a8f7fd6")},
		{7387, newHashFromStr("0000000000ff52a2bf06e724e846f5cc7a85b9f43ede7adc89b289564a3e724d")},
	},
	lastCheckpointTime:    1403925464,
	lastCheckpointTxCount: 25000,
	txPerDayAfter:         800.0,
}

// The test network table is informational only, enforcement is always
// bypassed there.
var testNetData = &checkpointData{
	checkpoints: []Checkpoint{
		{44, &chainhash.Hash{}},
	},
	lastCheckpointTime:    1393373461,
	lastCheckpointTxCount: 3000,
	txPerDayAfter:         30.0,
}

func newHashFromStr(s string) *chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(fmt.Sprintf("invalid checkpoint hash %s: %v", s, err))
	}
	return hash
}

func init() {
	for _, data := range []*checkpointData{mainNetData, testNetData} {
		if len(data.checkpoints) == 0 {
			panic("empty checkpoint table")
		}
		seen := make(map[chainhash.Hash]struct{}, len(data.checkpoints))
		for i, cp := range data.checkpoints {
			if i > 0 && cp.Height <= data.checkpoints[i-1].Height {
				panic(fmt.Sprintf("checkpoint heights not strictly increasing at height %d", cp.Height))
			}
			if _, ok := seen[*cp.Hash]; ok {
				panic(fmt.Sprintf("duplicate checkpoint hash %s", cp.Hash))
			}
			seen[*cp.Hash] = struct{}{}
		}
	}
}

// IndexNode is a read-only view of one entry in the external block index.
type IndexNode interface {
	Height() uint32
	ChainTxCount() uint64
	Timestamp() int64
	InMainChain() bool
}

// BlockIndex resolves block hashes to index entries. Node returns nil for
// hashes not present in the index. Implementations own their own
// synchronization, the guard only reads through them.
type BlockIndex interface {
	Node(hash *chainhash.Hash) IndexNode
	GenesisHash() *chainhash.Hash
}

// Guard validates candidate blocks against the pinned checkpoint table of
// the configured network. It is bound to its table once at construction and
// never mutated, so a single Guard may be shared by any number of
// goroutines without locking.
type Guard struct {
	data    *checkpointData
	testNet bool
	enabled bool
}

// NewGuard binds a guard to the checkpoint table of the given network.
// Passing enabled=false turns every check into a no-op.
func NewGuard(net *chaincfg.Params, enabled bool) *Guard {
	g := &Guard{enabled: enabled}
	if net.Net == wire.MainNet {
		g.data = mainNetData
	} else {
		g.data = testNetData
		g.testNet = true
	}
	return g
}

// Checkpoints returns the pinned entries of the active table, lowest height
// first. The slice is shared immutable data and must not be modified.
func (g *Guard) Checkpoints() []Checkpoint {
	return g.data.checkpoints
}

// CheckBlock reports whether a candidate block is acceptable at the given
// height. Heights without a pinned entry are unconstrained: the table is a
// sparse allow-list, not a completeness guarantee.
func (g *Guard) CheckBlock(height uint32, hash *chainhash.Hash) bool {
	if g.testNet || !g.enabled {
		return true
	}
	for _, cp := range g.data.checkpoints {
		if cp.Height == height {
			return cp.Hash.IsEqual(hash)
		}
		if cp.Height > height {
			break
		}
	}
	return true
}

// TotalBlocksEstimate returns the height of the highest checkpoint, an
// upper-bound display ceiling for "blocks remaining" style progress bars.
func (g *Guard) TotalBlocksEstimate() uint32 {
	if g.testNet || !g.enabled {
		return 0
	}
	return g.data.checkpoints[len(g.data.checkpoints)-1].Height
}

// GuessVerificationProgress estimates how far verification has progressed at
// the given chain tip, as a fraction in [0,1]. Transactions at or before the
// last checkpoint count 1 work unit, transactions after it count
// sigcheckVerificationFactor units. The remaining work is extrapolated from
// the calibrated daily transaction rate, so the result is a best-effort
// gauge and not guaranteed to be monotonic in wall-clock time.
func (g *Guard) GuessVerificationProgress(now time.Time, tip IndexNode) float64 {
	if tip == nil {
		return 0.0
	}

	data := g.data
	nowSecs := float64(now.Unix())

	var workDone, workLeft float64
	if tip.ChainTxCount() <= data.lastCheckpointTxCount {
		cheapDone := float64(tip.ChainTxCount())
		cheapLeft := float64(data.lastCheckpointTxCount - tip.ChainTxCount())
		expensiveLeft := (nowSecs - float64(data.lastCheckpointTime)) / secondsPerDay * data.txPerDayAfter
		workDone = cheapDone
		workLeft = cheapLeft + expensiveLeft*sigcheckVerificationFactor
	} else {
		cheapDone := float64(data.lastCheckpointTxCount)
		expensiveDone := float64(tip.ChainTxCount() - data.lastCheckpointTxCount)
		expensiveLeft := (nowSecs - float64(tip.Timestamp())) / secondsPerDay * data.txPerDayAfter
		workDone = cheapDone + expensiveDone*sigcheckVerificationFactor
		workLeft = expensiveLeft * sigcheckVerificationFactor
	}

	return workDone / (workDone + workLeft)
}

// LastCheckpoint returns the highest checkpoint whose hash is present in the
// index, or nil if none is indexed yet. The validation pipeline uses it to
// bound how far back full script verification must run.
func (g *Guard) LastCheckpoint(index BlockIndex) IndexNode {
	if g.testNet || !g.enabled {
		return nil
	}
	cps := g.data.checkpoints
	for i := len(cps) - 1; i >= 0; i-- {
		if node := index.Node(cps[i].Hash); node != nil {
			return node
		}
	}
	return nil
}

// LastAvailableCheckpoint returns the hash of the highest checkpoint that is
// both indexed and on the main chain, guarding against pins orphaned by a
// reorg. It falls back to the genesis hash when no checkpoint qualifies.
func (g *Guard) LastAvailableCheckpoint(index BlockIndex) *chainhash.Hash {
	cps := g.data.checkpoints
	for i := len(cps) - 1; i >= 0; i-- {
		if node := index.Node(cps[i].Hash); node != nil && node.InMainChain() {
			return cps[i].Hash
		}
	}
	return index.GenesisHash()
}

// LatestHardenedCheckpoint returns the hash of the highest checkpoint in the
// active table, whether or not it is indexed locally. Reorganizations below
// it must be rejected outright.
func (g *Guard) LatestHardenedCheckpoint() *chainhash.Hash {
	cps := g.data.checkpoints
	return cps[len(cps)-1].Hash
}
