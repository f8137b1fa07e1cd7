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

// go/src/consensus/quorum.go
package consensus

// Quorum returns the Byzantine quorum for a view of n voters: n - floor((n-1)/3).
// Any two quorums of the same view intersect in at least one honest voter.
func Quorum(n int) int {
	if n <= 0 {
		return 0
	}
	return n - (n-1)/3
}

// MaxFaulty returns the number of Byzantine voters a view of n tolerates.
func MaxFaulty(n int) int {
	if n <= 0 {
		return 0
	}
	return (n - 1) / 3
}

// QuorumVerifier checks the safety of a view size against a fault budget
type QuorumVerifier struct {
	totalNodes  int // Voters in the view
	faultyNodes int // Byzantine voters to tolerate
}

// NewQuorumVerifier creates a verifier for totalNodes voters of which
// faultyNodes may be Byzantine
func NewQuorumVerifier(totalNodes, faultyNodes int) *QuorumVerifier {
	return &QuorumVerifier{totalNodes: totalNodes, faultyNodes: faultyNodes}
}

// VerifySafety reports whether the fault budget stays under a third of the view
func (qv *QuorumVerifier) VerifySafety() bool {
	return qv.totalNodes > 0 && qv.faultyNodes <= MaxFaulty(qv.totalNodes)
}

// VerifyQuorumIntersection checks that two quorums overlap in more than
// faultyNodes voters: 2q - n > f
func (qv *QuorumVerifier) VerifyQuorumIntersection() bool {
	q := Quorum(qv.totalNodes)
	return qv.totalNodes > 0 && 2*q-qv.totalNodes > qv.faultyNodes
}

// CalculateMinQuorumSize returns the quorum of the verified view
func (qv *QuorumVerifier) CalculateMinQuorumSize() int {
	return Quorum(qv.totalNodes)
}

// QuorumCalculator sizes views within the authorizer clamp
type QuorumCalculator struct {
	minAuthorizers int // Lower clamp of the primary set
	maxAuthorizers int // Upper clamp of the primary set
}

// NewQuorumCalculator creates a calculator for the [min, max] authorizer clamp
func NewQuorumCalculator(minAuthorizers, maxAuthorizers int) *QuorumCalculator {
	return &QuorumCalculator{minAuthorizers: minAuthorizers, maxAuthorizers: maxAuthorizers}
}

// QualifiedNodeCount clamps the number of qualified nodes to the authorizer bounds.
// The result may exceed count when fewer than the minimum qualify; callers take
// at most that many.
func (qc *QuorumCalculator) QualifiedNodeCount(count int) int {
	switch {
	case count > qc.maxAuthorizers:
		return qc.maxAuthorizers
	case count < qc.minAuthorizers:
		return qc.minAuthorizers
	default:
		return count
	}
}

// Reached reports whether votes satisfy the quorum of a view of n voters
func (qc *QuorumCalculator) Reached(votes, n int) bool {
	return n > 0 && votes >= Quorum(n)
}

// CalculateMaxFaulty returns the fault budget of a view of n voters
func (qc *QuorumCalculator) CalculateMaxFaulty(n int) int {
	return MaxFaulty(n)
}
