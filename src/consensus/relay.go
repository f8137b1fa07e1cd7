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

// go/src/consensus/relay.go
package consensus

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/lyra-core/go/src/security"
	"github.com/minio/highwayhash"
)

// RelayVerdict is the outcome of Relay.Accept
type RelayVerdict int

const (
	Accepted     RelayVerdict = iota // First sighting, deliver and forward
	Duplicate                        // Signature already seen inside the retention window
	Stale                            // Timestamp older than the replay window
	FromFuture                       // Timestamp beyond the allowed clock skew
	WrongVersion                     // Protocol version mismatch
	BadSignature                     // Envelope signature does not verify
	Malformed                        // Envelope shape invalid
)

var verdictNames = [...]string{"accepted", "duplicate", "stale", "future", "version", "bad_signature", "malformed"}

func (v RelayVerdict) String() string {
	if v >= 0 && int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return "unknown"
}

// Penalize reports whether the verdict should lower the sender's score.
func (v RelayVerdict) Penalize() bool {
	return v == Stale || v == FromFuture || v == BadSignature || v == Malformed
}

// Relay deduplicates signed envelopes by signature and rejects envelopes
// outside the replay window. Entries are kept in insertion order so Purge
// only walks the expired prefix.
type Relay struct {
	mu   sync.Mutex
	seen *orderedmap.OrderedMap[uint64, int64] // signature digest -> first sighting, unix ms
	key  []byte                                // highwayhash key, random per process

	version   int
	window    time.Duration
	skew      time.Duration
	retention time.Duration
}

// NewRelay creates a relay for the given protocol version and windows.
// Retention is raised to window+skew so a signature stays remembered for
// as long as its envelope could still be accepted.
func NewRelay(version int, window, skew, retention time.Duration) *Relay {
	if retention < window+skew {
		retention = window + skew
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return &Relay{
		seen:      orderedmap.NewOrderedMap[uint64, int64](),
		key:       key,
		version:   version,
		window:    window,
		skew:      skew,
		retention: retention,
	}
}

func (r *Relay) digest(signature string) uint64 {
	return highwayhash.Sum64([]byte(signature), r.key)
}

// Accept decides whether msg is delivered locally and forwarded.
// The signature is checked before the envelope is recorded so a forged
// copy cannot shadow the genuine one.
func (r *Relay) Accept(msg *security.Message, now time.Time) RelayVerdict {
	if msg == nil || msg.ValidateMessage() != nil {
		return Malformed
	}
	if msg.Version != r.version {
		return WrongVersion
	}
	ts := msg.Time()
	if !ts.After(now.Add(-r.window)) {
		return Stale
	}
	if !ts.Before(now.Add(r.skew)) {
		return FromFuture
	}

	d := r.digest(msg.Signature)
	r.mu.Lock()
	seen := r.seen.Has(d)
	r.mu.Unlock()
	if seen {
		return Duplicate
	}
	if msg.Verify() != nil {
		return BadSignature
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen.Has(d) {
		return Duplicate
	}
	r.seen.Set(d, now.UnixMilli())
	return Accepted
}

// Remember records an outbound envelope so echoes of it are dropped.
func (r *Relay) Remember(msg *security.Message, now time.Time) {
	d := r.digest(msg.Signature)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seen.Has(d) {
		r.seen.Set(d, now.UnixMilli())
	}
}

// Purge drops entries older than the retention window and returns how many were removed.
func (r *Relay) Purge(now time.Time) int {
	cutoff := now.Add(-r.retention).UnixMilli()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for el := r.seen.Front(); el != nil; {
		if el.Value >= cutoff {
			break
		}
		next := el.Next()
		r.seen.Delete(el.Key)
		removed++
		el = next
	}
	return removed
}

// Len returns the number of remembered signatures.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen.Len()
}
