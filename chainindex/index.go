package chainindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Node is one entry of the block-index arena. Everything but the main-chain
// flag is fixed at creation; the flag is read and written only under the
// owning index's lock.
type Node struct {
	hash      chainhash.Hash
	height    uint32
	timestamp int64
	chainTx   uint64
	parent    *Node
	mainChain bool
	idx       *Index
}

func NewNode(hash chainhash.Hash, height uint32, timestamp int64, chainTx uint64, parent *Node) *Node {
	return &Node{
		hash:      hash,
		height:    height,
		timestamp: timestamp,
		chainTx:   chainTx,
		parent:    parent,
	}
}

func (n *Node) Hash() *chainhash.Hash {
	return &n.hash
}

func (n *Node) Height() uint32 {
	return n.height
}

func (n *Node) Timestamp() int64 {
	return n.timestamp
}

// ChainTxCount is the cumulative number of transactions in the chain up to
// and including this block.
func (n *Node) ChainTxCount() uint64 {
	return n.chainTx
}

func (n *Node) Parent() *Node {
	return n.parent
}

// InMainChain reports whether the node is on the current best chain. The
// flag is read under the owning index's lock so it stays consistent with
// concurrent SetTip calls; a node not yet added to an index is on no chain.
func (n *Node) InMainChain() bool {
	if n.idx == nil {
		return false
	}
	n.idx.mtx.RLock()
	defer n.idx.mtx.RUnlock()
	return n.mainChain
}

func (n *Node) String() string {
	return fmt.Sprintf("%s:%d", n.hash.String(), n.height)
}

func (n *Node) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(n.hash[:])
	var parent chainhash.Hash
	if n.parent != nil {
		parent = n.parent.hash
	}
	buf.Write(parent[:])

	if err := binary.Write(&buf, binary.BigEndian, n.height); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, n.timestamp); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, n.chainTx); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// NodeRecord is the flat form a node takes in the database: the parent is
// still a hash because the pointer can only be resolved once all nodes are
// loaded.
type NodeRecord struct {
	Hash       chainhash.Hash
	ParentHash chainhash.Hash
	Height     uint32
	Timestamp  int64
	ChainTx    uint64
}

func (rec *NodeRecord) Deserialize(buf []byte) error {
	r := bytes.NewReader(buf)

	hash := make([]byte, chainhash.HashSize)
	if _, err := r.Read(hash); err != nil {
		return err
	}
	if err := rec.Hash.SetBytes(hash); err != nil {
		return err
	}

	parent := make([]byte, chainhash.HashSize)
	if _, err := r.Read(parent); err != nil {
		return err
	}
	if err := rec.ParentHash.SetBytes(parent); err != nil {
		return err
	}

	if err := binary.Read(r, binary.BigEndian, &rec.Height); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &rec.Timestamp); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &rec.ChainTx); err != nil {
		return err
	}

	return nil
}

// Index is the in-memory registry of block-index nodes, addressed by hash.
// All access goes through the lock; the main-chain marks are consistent with
// the tip at all times.
type Index struct {
	mtx     sync.RWMutex
	nodes   map[chainhash.Hash]*Node
	genesis chainhash.Hash
	tip     *Node
}

func NewIndex(genesis *chainhash.Hash) *Index {
	return &Index{
		nodes:   make(map[chainhash.Hash]*Node),
		genesis: *genesis,
	}
}

func (idx *Index) GenesisHash() *chainhash.Hash {
	return &idx.genesis
}

func (idx *Index) AddNode(n *Node) {
	idx.mtx.Lock()
	n.idx = idx
	idx.nodes[n.hash] = n
	idx.mtx.Unlock()
}

// LookupNode returns the node for the given hash, or nil if it is unknown.
func (idx *Index) LookupNode(hash *chainhash.Hash) *Node {
	idx.mtx.RLock()
	n := idx.nodes[*hash]
	idx.mtx.RUnlock()
	return n
}

func (idx *Index) Tip() *Node {
	idx.mtx.RLock()
	tip := idx.tip
	idx.mtx.RUnlock()
	return tip
}

// Height returns the height of the current tip, 0 when the index is empty.
func (idx *Index) Height() uint32 {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	if idx.tip == nil {
		return 0
	}
	return idx.tip.height
}

// SetTip repoints the best chain at the given node and re-marks main-chain
// membership along the parent links, so nodes orphaned by a reorg stop
// reporting InMainChain.
func (idx *Index) SetTip(tip *Node) {
	idx.mtx.Lock()
	for n := idx.tip; n != nil; n = n.parent {
		n.mainChain = false
	}
	for n := tip; n != nil; n = n.parent {
		n.mainChain = true
	}
	idx.tip = tip
	idx.mtx.Unlock()
}

func (idx *Index) Size() int {
	idx.mtx.RLock()
	defer idx.mtx.RUnlock()
	return len(idx.nodes)
}
