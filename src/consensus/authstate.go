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

// go/src/consensus/authstate.go
package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/lyra-core/go/src/core"
	"github.com/lyra-core/go/src/security"
)

// AuthState is the vote tally of one candidate block.
// The decide steps run at most once each under mu.
type AuthState struct {
	mu sync.Mutex

	block   *core.Block
	hash    string
	view    []string
	viewSet map[string]struct{}
	quorum  int
	created time.Time

	prepares *orderedmap.OrderedMap[string, *Prepare] // voter -> prepare, arrival order
	commits  map[string]*Commit

	saving    bool // prepare decision taken
	finalized bool // commit quorum handed to persistence
	decision  ConsensusResult
	uindex    int64
	uhash     string
	authz     []core.AuthorizationSignature

	localResult *core.ResultCode

	result ConsensusResult
	done   chan struct{}
}

// NewAuthState opens a tally for block over view.
func NewAuthState(block *core.Block, view []string, now time.Time) *AuthState {
	s := &AuthState{
		block:    block,
		hash:     block.Hash,
		view:     append([]string(nil), view...),
		viewSet:  make(map[string]struct{}, len(view)),
		quorum:   Quorum(len(view)),
		created:  now,
		prepares: orderedmap.NewOrderedMap[string, *Prepare](),
		commits:  make(map[string]*Commit),
		done:     make(chan struct{}),
	}
	for _, id := range view {
		s.viewSet[id] = struct{}{}
	}
	return s
}

// Block returns the candidate.
func (s *AuthState) Block() *core.Block { return s.block }

// Hash returns the candidate hash.
func (s *AuthState) Hash() string { return s.hash }

// View returns a copy of the voters of this session.
func (s *AuthState) View() []string { return append([]string(nil), s.view...) }

// Quorum returns the vote threshold of this session.
func (s *AuthState) Quorum() int { return s.quorum }

// Created returns the creation time.
func (s *AuthState) Created() time.Time { return s.created }

// InView reports whether accountID may vote.
func (s *AuthState) InView(accountID string) bool {
	_, ok := s.viewSet[accountID]
	return ok
}

// AddPrepare records a voter's prepare. Votes from outside the view, second
// votes from one voter and accepts without a valid authorizer signature are refused.
func (s *AuthState) AddPrepare(from string, p *Prepare) bool {
	if !s.InView(from) || p.BlockHash != s.hash {
		return false
	}
	if p.Result == core.Success {
		if p.AuthSign == nil || p.AuthSign.Key != from ||
			!security.VerifyAccountSignature([]byte(s.hash), from, p.AuthSign.Signature) {
			return false
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepares.Has(from) {
		return false
	}
	s.prepares.Set(from, p)
	return true
}

// SetLocalResult records the local authorizer verdict.
func (s *AuthState) SetLocalResult(code core.ResultCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localResult = &code
}

// LocalResult returns the local verdict and whether one was produced.
func (s *AuthState) LocalResult() (core.ResultCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localResult == nil {
		return core.UnknownError, false
	}
	return *s.localResult, true
}

// CheckPrepares decides the session once a quorum of prepares agrees.
// It returns the decision and true only for the call that takes it.
func (s *AuthState) CheckPrepares() (*Commit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saving {
		return nil, false
	}
	var (
		accepts []core.AuthorizationSignature
		rejects int
		uindex  = make(map[int64]int)
	)
	for el := s.prepares.Front(); el != nil; el = el.Next() {
		p := el.Value
		if p.Result == core.Success {
			accepts = append(accepts, *p.AuthSign)
			uindex[p.ProposedUIndex]++
		} else {
			rejects++
		}
	}
	switch {
	case len(accepts) >= s.quorum:
		s.saving = true
		s.decision = ResultYea
		s.uindex = mostProposed(uindex)
		s.uhash = core.UHash(s.uindex, s.block.Height, s.hash)
		s.authz = accepts
		return &Commit{
			BlockHash:      s.hash,
			Consensus:      ResultYea,
			UIndex:         s.uindex,
			UHash:          s.uhash,
			Authorizations: append([]core.AuthorizationSignature(nil), accepts...),
		}, true
	case rejects >= s.quorum:
		s.saving = true
		s.decision = ResultNay
		return &Commit{BlockHash: s.hash, Consensus: ResultNay}, true
	}
	return nil, false
}

// mostProposed returns the most frequent UIndex, ties to the lowest.
func mostProposed(counts map[int64]int) int64 {
	keys := make([]int64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var best int64
	bestCount := 0
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

// AddCommit records a voter's commit. Commits whose UHash does not bind
// their UIndex to this block are refused.
func (s *AuthState) AddCommit(from string, c *Commit) bool {
	if !s.InView(from) || c.BlockHash != s.hash || c.Consensus != ResultYea {
		return false
	}
	if c.UHash != core.UHash(c.UIndex, s.block.Height, s.hash) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.commits[from]; dup {
		return false
	}
	s.commits[from] = c
	return true
}

// CheckCommits returns the block to persist once a quorum of commits agrees
// on one UHash. It returns true only for the call that crosses the quorum.
func (s *AuthState) CheckCommits() (*core.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return nil, false
	}
	groups := make(map[string][]*Commit)
	for _, c := range s.commits {
		groups[c.UHash] = append(groups[c.UHash], c)
	}
	var best []*Commit
	for _, g := range groups {
		if len(g) > len(best) || (len(g) == len(best) && len(g) > 0 && g[0].UHash < best[0].UHash) {
			best = g
		}
	}
	if len(best) < s.quorum {
		return nil, false
	}
	s.finalized = true
	c := best[0]
	b := s.block.Clone()
	b.UIndex, b.UHash = c.UIndex, c.UHash
	if s.saving && s.decision == ResultYea && s.uhash == c.UHash {
		b.Authorizations = append([]core.AuthorizationSignature(nil), s.authz...)
	} else {
		b.Authorizations = append([]core.AuthorizationSignature(nil), c.Authorizations...)
	}
	return b, true
}

// Finish sets the terminal result. Only the first call has an effect.
func (s *AuthState) Finish(r ConsensusResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != ResultPending {
		return false
	}
	s.result = r
	close(s.done)
	return true
}

// Result returns the current result.
func (s *AuthState) Result() ConsensusResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Done is closed when the session reaches a terminal result.
func (s *AuthState) Done() <-chan struct{} { return s.done }

// Counts returns the number of prepares and commits collected.
func (s *AuthState) Counts() (prepares, commits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepares.Len(), len(s.commits)
}

// Expired reports whether the session outlived timeout.
func (s *AuthState) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.created) > timeout
}
