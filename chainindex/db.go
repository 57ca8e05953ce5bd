package chainindex

import (
	"encoding/binary"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	BKTNodes      = []byte("nodes")
	BKTTip        = []byte("tip")
	BKTLastHeight = []byte("lastheight")
	KEYTip        = []byte("tip")
	KEYLastHeight = []byte("lastheight")
)

// IndexDB persists the block index so a restarted guard does not have to
// refetch the whole chain from the node.
type IndexDB struct {
	rwlock *sync.RWMutex
	db     *bolt.DB
	dbPath string
}

func NewIndexDB(filePath string) (*IndexDB, error) {
	if !strings.Contains(filePath, ".bin") {
		filePath = path.Join(filePath, "index.bin")
	}

	db, err := bolt.Open(filePath, 0644, &bolt.Options{InitialMmapSize: 500000})
	if err != nil {
		return nil, err
	}

	idb := &IndexDB{
		rwlock: new(sync.RWMutex),
		db:     db,
		dbPath: filePath,
	}

	if err = db.Update(func(btx *bolt.Tx) error {
		if _, err := btx.CreateBucketIfNotExists(BKTNodes); err != nil {
			return err
		}
		if _, err := btx.CreateBucketIfNotExists(BKTTip); err != nil {
			return err
		}
		if _, err := btx.CreateBucketIfNotExists(BKTLastHeight); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return idb, nil
}

func (idb *IndexDB) PutNode(n *Node) error {
	idb.rwlock.Lock()
	defer idb.rwlock.Unlock()

	val, err := n.Serialize()
	if err != nil {
		return err
	}

	return idb.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BKTNodes)
		return bucket.Put(n.hash[:], val)
	})
}

func (idb *IndexDB) GetNode(hash *chainhash.Hash) (*NodeRecord, error) {
	idb.rwlock.RLock()
	defer idb.rwlock.RUnlock()

	rec := new(NodeRecord)
	if err := idb.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BKTNodes)
		val := bucket.Get(hash[:])
		if val == nil {
			return fmt.Errorf("node %s not found", hash)
		}
		return rec.Deserialize(val)
	}); err != nil {
		return nil, err
	}

	return rec, nil
}

func (idb *IndexDB) PutTip(hash *chainhash.Hash) error {
	idb.rwlock.Lock()
	defer idb.rwlock.Unlock()

	return idb.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BKTTip)
		return bucket.Put(KEYTip, hash[:])
	})
}

func (idb *IndexDB) GetTip() *chainhash.Hash {
	idb.rwlock.RLock()
	defer idb.rwlock.RUnlock()

	var tip *chainhash.Hash
	_ = idb.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BKTTip)
		val := bucket.Get(KEYTip)
		if val == nil {
			return nil
		}
		hash, err := chainhash.NewHash(val)
		if err != nil {
			return err
		}
		tip = hash
		return nil
	})

	return tip
}

func (idb *IndexDB) SetLastHeight(height uint32) error {
	idb.rwlock.Lock()
	defer idb.rwlock.Unlock()

	val := make([]byte, 4)
	binary.LittleEndian.PutUint32(val, height)
	return idb.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BKTLastHeight)
		return bucket.Put(KEYLastHeight, val)
	})
}

func (idb *IndexDB) GetLastHeight() uint32 {
	idb.rwlock.RLock()
	defer idb.rwlock.RUnlock()

	var height uint32
	_ = idb.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BKTLastHeight)
		val := bucket.Get(KEYLastHeight)
		if val == nil {
			return nil
		}
		height = binary.LittleEndian.Uint32(val)
		return nil
	})

	return height
}

// LoadIndex rebuilds the in-memory index from the database: all nodes are
// read flat, parent pointers resolved in a second pass, and main-chain marks
// recomputed from the stored tip.
func (idb *IndexDB) LoadIndex(genesis *chainhash.Hash) (*Index, error) {
	idb.rwlock.RLock()
	recs := make([]*NodeRecord, 0)
	err := idb.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BKTNodes)
		return bucket.ForEach(func(k, v []byte) error {
			rec := new(NodeRecord)
			if err := rec.Deserialize(v); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	idb.rwlock.RUnlock()
	if err != nil {
		return nil, err
	}

	index := NewIndex(genesis)
	nodes := make(map[chainhash.Hash]*Node, len(recs))
	for _, rec := range recs {
		nodes[rec.Hash] = NewNode(rec.Hash, rec.Height, rec.Timestamp, rec.ChainTx, nil)
	}
	var zero chainhash.Hash
	for _, rec := range recs {
		if rec.ParentHash != zero {
			nodes[rec.Hash].parent = nodes[rec.ParentHash]
		}
		index.AddNode(nodes[rec.Hash])
	}

	if tipHash := idb.GetTip(); tipHash != nil {
		tip := nodes[*tipHash]
		if tip == nil {
			return nil, fmt.Errorf("tip %s not in node bucket", tipHash)
		}
		index.SetTip(tip)
	}

	return index, nil
}

func (idb *IndexDB) Close() error {
	idb.rwlock.Lock()
	defer idb.rwlock.Unlock()
	return idb.db.Close()
}
