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

// go/src/consensus/quorum_test.go
package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuorumFormula(t *testing.T) {
	expected := map[int]int{4: 3, 5: 4, 6: 5, 7: 5, 8: 6, 9: 7, 10: 7, 13: 9, 16: 11, 19: 13}
	for n, q := range expected {
		require.Equal(t, q, Quorum(n), "n=%d", n)
	}
	for n := 4; n <= 19; n++ {
		q := Quorum(n)
		require.Equal(t, n-(n-1)/3, q)
		v := NewQuorumVerifier(n, MaxFaulty(n))
		require.True(t, v.VerifySafety(), "n=%d", n)
		require.True(t, v.VerifyQuorumIntersection(), "n=%d", n)
		require.Equal(t, q, v.CalculateMinQuorumSize())
	}
	require.Equal(t, 0, Quorum(0))
	require.False(t, NewQuorumVerifier(4, 2).VerifySafety())
}

func TestQualifiedNodeCount(t *testing.T) {
	qc := NewQuorumCalculator(4, 19)
	cases := []struct{ in, out int }{{0, 4}, {3, 4}, {4, 4}, {12, 12}, {19, 19}, {30, 19}}
	for _, c := range cases {
		require.Equal(t, c.out, qc.QualifiedNodeCount(c.in), "count=%d", c.in)
	}
	require.True(t, qc.Reached(3, 4))
	require.False(t, qc.Reached(2, 4))
	require.False(t, qc.Reached(0, 0))
	require.Equal(t, 6, qc.CalculateMaxFaulty(19))
}
