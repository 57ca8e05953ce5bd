package btc_guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/evdatsion/btc-chain-guard/chainindex"
	"github.com/evdatsion/btc-chain-guard/checkpoints"
	"github.com/evdatsion/btc-chain-guard/log"
	"github.com/evdatsion/btc-chain-guard/rpc"
)

var errOrphanBlock = errors.New("parent of block not indexed")

// ChainGuard follows a full node's best chain, keeps the local block index
// up to date and rejects any block that contradicts a hardened checkpoint.
type ChainGuard struct {
	cli      *rpc.Client
	netParam *chaincfg.Params
	conf     *GuardConfig
	guard    *checkpoints.Guard
	index    *chainindex.Index
	db       *chainindex.IndexDB
}

func NewChainGuard(conf *GuardConfig) (*ChainGuard, error) {
	var param *chaincfg.Params
	switch conf.NetType {
	case "test":
		param = &chaincfg.TestNet3Params
	case "sim":
		param = &chaincfg.SimNetParams
	case "regtest":
		param = &chaincfg.RegressionNetParams
	default:
		param = &chaincfg.MainNetParams
	}

	if !checkIfExist(conf.IndexDBPath) {
		os.Mkdir(conf.IndexDBPath, os.ModePerm)
	}
	db, err := chainindex.NewIndexDB(conf.IndexDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to new index db: %v", err)
	}
	index, err := db.LoadIndex(param.GenesisHash)
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %v", err)
	}
	if index.Tip() == nil {
		genesis := chainindex.NewNode(*param.GenesisHash, 0,
			param.GenesisBlock.Header.Timestamp.Unix(),
			uint64(len(param.GenesisBlock.Transactions)), nil)
		index.AddNode(genesis)
		index.SetTip(genesis)
		if err := db.PutNode(genesis); err != nil {
			return nil, fmt.Errorf("failed to store genesis node: %v", err)
		}
		if err := db.PutTip(genesis.Hash()); err != nil {
			return nil, fmt.Errorf("failed to store genesis tip: %v", err)
		}
	}

	return &ChainGuard{
		cli:      rpc.NewClient(conf.BtcJsonRpcAddress, conf.User, conf.Pwd),
		netParam: param,
		conf:     conf,
		guard:    checkpoints.NewGuard(param, !conf.DisableCheckpoints),
		index:    index,
		db:       db,
	}, nil
}

// Watch polls the node for new blocks and extends the local index with every
// block that passes the checkpoint guard.
func (cg *ChainGuard) Watch() {
	log.Infof("[Watch] start watching from height %d, check once %d seconds",
		cg.index.Height(), cg.conf.LoopWaitTime)
	tick := time.NewTicker(time.Duration(cg.conf.LoopWaitTime) * time.Second)
	for {
		select {
		case <-tick.C:
			newTop, _, err := cg.cli.GetCurrentHeightAndHash()
			if err != nil {
				log.Errorf("[Watch] failed to get current height and loop continue: %v", err)
				continue
			}
			if newTop <= cg.index.Height() {
				continue
			}
			cg.syncToHeight(newTop)
		}
	}
}

func (cg *ChainGuard) syncToHeight(newTop uint32) {
	h := cg.index.Height() + 1
	for h <= newTop {
		hashStr, err := cg.cli.GetBlockHash(h)
		if err != nil {
			if cg.waitToRetry(err, h) {
				continue
			}
			log.Errorf("[Watch] failed to get block hash of height %d: %v", h, err)
			return
		}
		hash, err := chainhash.NewHashFromStr(hashStr)
		if err != nil {
			log.Errorf("[Watch] bad block hash %s from node: %v", hashStr, err)
			return
		}
		blk, err := cg.cli.GetBlock(hashStr)
		if err != nil {
			if cg.waitToRetry(err, h) {
				continue
			}
			log.Errorf("[Watch] failed to get block %s: %v", hashStr, err)
			return
		}

		if err := cg.acceptBlock(h, hash, blk); err != nil {
			if err == errOrphanBlock && h > 1 {
				// parent is not indexed, so the node switched to another
				// branch; step back one height until the branches join
				log.Warnf("[Watch] fork happened at height %d, rewinding to find common ancestor", h)
				h--
				continue
			}
			log.Errorf("[Watch] rejected block %s at height %d: %v", hashStr, h, err)
			return
		}
		log.Tracef("[Watch] accepted block %s at height %d", hashStr, h)
		h++
	}
	log.Debugf("[Watch] synced to height %d", cg.index.Height())
}

// waitToRetry reports whether the error is worth another attempt at the same
// height, sleeping before the caller retries.
func (cg *ChainGuard) waitToRetry(err error, height uint32) bool {
	switch err.(type) {
	case rpc.NeedToRetryErr:
		log.Debugf("[Watch] height %d not ready on node and retry: %v", height, err)
	case rpc.NetErr:
		log.Warnf("[Watch] net error at height %d and retry: %v", height, err)
	default:
		return false
	}
	rpc.Wait(time.Second * rpc.SleepTime)
	return true
}

// acceptBlock runs the candidate past the checkpoint guard, links it to its
// parent and makes it the new main-chain tip.
func (cg *ChainGuard) acceptBlock(height uint32, hash *chainhash.Hash, blk *wire.MsgBlock) error {
	if !cg.guard.CheckBlock(height, hash) {
		return fmt.Errorf("block %s at height %d contradicts checkpoint %s",
			hash, height, cg.pinnedHashAt(height))
	}

	if existing := cg.index.LookupNode(hash); existing != nil {
		cg.index.SetTip(existing)
		return cg.db.PutTip(hash)
	}

	prev := blk.Header.PrevBlock
	parent := cg.index.LookupNode(&prev)
	if parent == nil {
		return errOrphanBlock
	}

	node := chainindex.NewNode(*hash, height, blk.Header.Timestamp.Unix(),
		parent.ChainTxCount()+uint64(len(blk.Transactions)), parent)
	cg.index.AddNode(node)
	cg.index.SetTip(node)

	if err := cg.db.PutNode(node); err != nil {
		return fmt.Errorf("failed to store node: %v", err)
	}
	if err := cg.db.PutTip(hash); err != nil {
		return fmt.Errorf("failed to store tip: %v", err)
	}
	return cg.db.SetLastHeight(height)
}

func (cg *ChainGuard) pinnedHashAt(height uint32) *chainhash.Hash {
	// only called for heights the guard refused, so the pin exists
	for _, cp := range cg.guard.Checkpoints() {
		if cp.Height == height {
			return cp.Hash
		}
	}
	return nil
}

// Report periodically logs how far verification has progressed and where the
// trusted anchors currently sit.
func (cg *ChainGuard) Report() {
	log.Info("[Report] start reporting sync progress")
	view := indexView{cg.index}
	tick := time.NewTicker(time.Duration(cg.conf.ReportDura) * time.Second)
	for {
		select {
		case <-tick.C:
			var progress float64
			if tip := cg.index.Tip(); tip != nil {
				progress = cg.guard.GuessVerificationProgress(time.Now(), tip)
			}
			log.Infof("[Report] height %d, estimated total %d, verification progress %.4f, trusted anchor %s",
				cg.index.Height(), cg.guard.TotalBlocksEstimate(), progress,
				cg.guard.LastAvailableCheckpoint(view))
			log.Debugf("[Report] hardened checkpoint %s", cg.guard.LatestHardenedCheckpoint())
			if last := cg.guard.LastCheckpoint(view); last != nil {
				log.Debugf("[Report] last indexed checkpoint at height %d", last.Height())
			}
		}
	}
}

// indexView presents the chain index to the checkpoints package as a
// read-only registry.
type indexView struct {
	index *chainindex.Index
}

func (v indexView) Node(hash *chainhash.Hash) checkpoints.IndexNode {
	if n := v.index.LookupNode(hash); n != nil {
		return n
	}
	return nil
}

func (v indexView) GenesisHash() *chainhash.Hash {
	return v.index.GenesisHash()
}

type GuardConfig struct {
	NetType            string `json:"net_type"`
	BtcJsonRpcAddress  string `json:"btc_json_rpc_address"`
	User               string `json:"user"`
	Pwd                string `json:"pwd"`
	LoopWaitTime       int64  `json:"loop_wait_time"`
	ReportDura         int64  `json:"report_dura"`
	IndexDBPath        string `json:"index_db_path"`
	DisableCheckpoints bool   `json:"disable_checkpoints"`
	LogLevel           int    `json:"log_level"`
	SleepTime          int    `json:"sleep_time"`
}

func NewGuardConfig(file string) (*GuardConfig, error) {
	conf := &GuardConfig{}
	err := conf.Init(file)
	if err != nil {
		return conf, fmt.Errorf("[NewGuardConfig] failed to new config: %v", err)
	}
	return conf, nil
}

func (this *GuardConfig) Init(fileName string) error {
	err := this.loadConfig(fileName)
	if err != nil {
		return fmt.Errorf("loadConfig error:%s", err)
	}
	return nil
}

func (this *GuardConfig) loadConfig(fileName string) error {
	data, err := this.readFile(fileName)
	if err != nil {
		return err
	}
	err = json.Unmarshal(data, this)
	if err != nil {
		return fmt.Errorf("json.Unmarshal GuardConfig:%s error:%s", data, err)
	}
	return nil
}

func (this *GuardConfig) readFile(fileName string) ([]byte, error) {
	file, err := os.OpenFile(fileName, os.O_RDONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("OpenFile %s error %s", fileName, err)
	}
	defer func() {
		err := file.Close()
		if err != nil {
			fmt.Println(fmt.Errorf("file %s close error %s", fileName, err))
		}
	}()
	data, err := ioutil.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("ioutil.ReadAll %s error %s", fileName, err)
	}
	return data, nil
}

func checkIfExist(dir string) bool {
	_, err := os.Stat(dir)
	if err != nil && !os.IsExist(err) {
		return false
	}
	return true
}
