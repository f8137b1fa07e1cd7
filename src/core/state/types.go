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

// go/src/core/state/types.go
package database

import (
	"sync"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/lyra-core/go/src/core"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned for missing blocks and records.
var ErrNotFound = core.ErrNotFound

// DB wraps a LevelDB instance with thread safety
type DB struct {
	db    LevelDBInterface
	mutex sync.RWMutex
}

// LevelDBInterface defines the LevelDB operations used by the ledger
type LevelDBInterface interface {
	Put(key []byte, value []byte, wo *opt.WriteOptions) error
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Delete(key []byte, wo *opt.WriteOptions) error
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	Write(batch *leveldb.Batch, wo *opt.WriteOptions) error
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
	Close() error
}

// Ensure leveldb.DB implements LevelDBInterface
var _ LevelDBInterface = (*leveldb.DB)(nil)

// Ledger is the block store of one node.
// Persist is serialized; reads go straight to the DB.
type Ledger struct {
	db      *DB
	handle  *codec.MsgpackHandle
	writeMu sync.Mutex

	// cached meta, guarded by writeMu for writes and metaMu for reads
	metaMu     sync.RWMutex
	lastUIndex int64
	blockCount int64
}

// meta is the set of counters kept alongside the blocks.
type meta struct {
	LastUIndex int64
	BlockCount int64
}
