// MIT License
//
// Copyright (c) 2024 sphinx-core
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// go/src/core/state/ledger.go
package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/holiman/uint256"
	"github.com/lyra-core/go/src/core"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

const (
	prefixBlock  = "block:"
	prefixUIndex = "uindex:"
	prefixLatest = "latest:"
	prefixUncons = "uncons:"
	prefixStake  = "stake:"

	keyMeta = "meta:counters"
)

func blockKey(hash string) []byte { return []byte(prefixBlock + hash) }

func uindexKey(uindex int64, hash string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixUIndex, uindex, hash))
}

func unconsKey(uindex int64, hash string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixUncons, uindex, hash))
}

// OpenLedger opens or creates a ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return newLedger(ldb)
}

// OpenMemLedger returns a ledger backed by memory storage.
func OpenMemLedger() (*Ledger, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newLedger(ldb)
}

func newLedger(ldb *leveldb.DB) (*Ledger, error) {
	l := &Ledger{db: NewDB(ldb), handle: &codec.MsgpackHandle{}}
	raw, err := l.db.Get([]byte(keyMeta))
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		ldb.Close()
		return nil, err
	default:
		var m meta
		if err := l.decode(raw, &m); err != nil {
			ldb.Close()
			return nil, err
		}
		l.lastUIndex, l.blockCount = m.LastUIndex, m.BlockCount
	}
	return l, nil
}

// Close closes the store.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Persist stores a finalized block. Storing a block that is already present
// is a no-op and returns false.
func (l *Ledger) Persist(b *core.Block) (bool, error) {
	if b == nil || b.Hash == "" {
		return false, errors.New("persist: block without hash")
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if ok, err := l.db.Has(blockKey(b.Hash)); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	data, err := l.encode(b)
	if err != nil {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(b.Hash), data)
	batch.Put(uindexKey(b.UIndex, b.Hash), []byte(b.Hash))

	latest, err := l.FindLatestBlock(b.ChainID())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if latest == nil || b.Height > latest.Height {
		batch.Put([]byte(prefixLatest+b.ChainID()), []byte(b.Hash))
	}

	switch b.Type {
	case core.TypeConsolidation:
		for _, h := range b.Consolidation.BlockHashes {
			cb, err := l.FindBlockByHash(h)
			if errors.Is(err, ErrNotFound) {
				continue
			} else if err != nil {
				return false, err
			}
			batch.Delete(unconsKey(cb.UIndex, h))
		}
	case core.TypeService:
		if b.Height == 1 {
			for _, st := range b.Service.Stakes {
				batch.Put([]byte(prefixStake+st.Account), []byte(st.Amount))
			}
		}
		batch.Put(unconsKey(b.UIndex, b.Hash), nil)
	default:
		batch.Put(unconsKey(b.UIndex, b.Hash), nil)
	}

	m := meta{LastUIndex: l.lastUIndex, BlockCount: l.blockCount + 1}
	if b.UIndex > m.LastUIndex {
		m.LastUIndex = b.UIndex
	}
	raw, err := l.encode(m)
	if err != nil {
		return false, err
	}
	batch.Put([]byte(keyMeta), raw)

	if err := l.db.Write(batch); err != nil {
		return false, fmt.Errorf("failed to persist block %s: %w", b.Hash, err)
	}
	l.metaMu.Lock()
	l.lastUIndex, l.blockCount = m.LastUIndex, m.BlockCount
	l.metaMu.Unlock()
	return true, nil
}

// FindBlockByHash returns the stored block or ErrNotFound.
func (l *Ledger) FindBlockByHash(hash string) (*core.Block, error) {
	raw, err := l.db.Get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	var b core.Block
	if err := l.decode(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// HasBlock reports whether the block is stored.
func (l *Ledger) HasBlock(hash string) bool {
	ok, err := l.db.Has(blockKey(hash))
	return err == nil && ok
}

// FindLatestBlock returns the highest block of a chain.
func (l *Ledger) FindLatestBlock(chainID string) (*core.Block, error) {
	hash, err := l.db.Get([]byte(prefixLatest + chainID))
	if err != nil {
		return nil, err
	}
	return l.FindBlockByHash(string(hash))
}

// FindLastServiceBlock returns the newest service block.
func (l *Ledger) FindLastServiceBlock() (*core.Block, error) {
	return l.FindLatestBlock(core.ServiceChain)
}

// FindLastConsolidationBlock returns the newest consolidation block.
func (l *Ledger) FindLastConsolidationBlock() (*core.Block, error) {
	return l.FindLatestBlock(core.ConsolidationChain)
}

// UnconsolidatedHashes lists hashes of blocks not yet covered by a
// consolidation block, in UIndex order.
func (l *Ledger) UnconsolidatedHashes() ([]string, error) {
	var hashes []string
	err := l.db.Scan([]byte(prefixUncons), prefixLimit(prefixUncons), func(key, _ []byte) bool {
		k := string(key)
		hashes = append(hashes, k[strings.LastIndexByte(k, ':')+1:])
		return true
	})
	return hashes, err
}

// BlocksFrom returns up to limit blocks with UIndex >= from, in UIndex order.
func (l *Ledger) BlocksFrom(from int64, limit int) ([]*core.Block, error) {
	if from < 0 {
		from = 0
	}
	var (
		blocks []*core.Block
		ferr   error
	)
	start := []byte(fmt.Sprintf("%s%020d", prefixUIndex, from))
	err := l.db.Scan(start, prefixLimit(prefixUIndex), func(_, value []byte) bool {
		b, err := l.FindBlockByHash(string(value))
		if err != nil {
			ferr = err
			return false
		}
		blocks = append(blocks, b)
		return len(blocks) < limit
	})
	if err != nil {
		return nil, err
	}
	return blocks, ferr
}

// LastUIndex returns the highest stored UIndex, 0 when empty.
func (l *Ledger) LastUIndex() int64 {
	l.metaMu.RLock()
	defer l.metaMu.RUnlock()
	return l.lastUIndex
}

// TotalBlockCount returns the number of stored blocks.
func (l *Ledger) TotalBlockCount() int64 {
	l.metaMu.RLock()
	defer l.metaMu.RUnlock()
	return l.blockCount
}

// StakeOf returns the stake recorded for an account, zero when unknown.
func (l *Ledger) StakeOf(accountID string) (*uint256.Int, error) {
	raw, err := l.db.Get([]byte(prefixStake + accountID))
	if errors.Is(err, ErrNotFound) {
		return uint256.NewInt(0), nil
	} else if err != nil {
		return nil, err
	}
	v, err := uint256.FromDecimal(string(raw))
	if err != nil {
		return nil, fmt.Errorf("corrupt stake for %s: %w", accountID, err)
	}
	return v, nil
}

// SetStake records the stake of an account.
func (l *Ledger) SetStake(accountID string, amount *uint256.Int) error {
	return l.db.Put([]byte(prefixStake+accountID), []byte(amount.Dec()))
}
