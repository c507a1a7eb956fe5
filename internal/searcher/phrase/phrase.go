// Package phrase verifies consecutive-term matches over decoded posting
// lists.
package phrase

import (
	"sort"

	"github.com/papyrus-search/papyrus/internal/index"
)

// Match is one phrase hit: the document and the first position where the
// full phrase starts.
type Match struct {
	DocID    uint32
	StartPos uint32
}

// Find intersects the term posting lists by doc ID and verifies positional
// adjacency. lists[i] holds the postings of the i-th phrase term, each
// sorted by doc ID. The shortest list drives the scan. Matches come back in
// ascending doc-ID order.
func Find(lists [][]index.Posting) []Match {
	if len(lists) == 0 {
		return nil
	}
	if len(lists) == 1 {
		out := make([]Match, 0, len(lists[0]))
		for _, p := range lists[0] {
			out = append(out, Match{DocID: p.DocID, StartPos: p.Positions[0]})
		}
		return out
	}

	shortest := 0
	for i, l := range lists {
		if len(l) < len(lists[shortest]) {
			shortest = i
		}
	}

	byDoc := make([]map[uint32][]uint32, len(lists))
	for i, l := range lists {
		if i == shortest {
			continue
		}
		m := make(map[uint32][]uint32, len(l))
		for _, p := range l {
			m[p.DocID] = p.Positions
		}
		byDoc[i] = m
	}

	var matches []Match
	for _, cand := range lists[shortest] {
		positions := make([][]uint32, len(lists))
		positions[shortest] = cand.Positions
		ok := true
		for i := range lists {
			if i == shortest {
				continue
			}
			pos, found := byDoc[i][cand.DocID]
			if !found {
				ok = false
				break
			}
			positions[i] = pos
		}
		if !ok {
			continue
		}
		if start, hit := verify(positions); hit {
			matches = append(matches, Match{DocID: cand.DocID, StartPos: start})
		}
	}
	return matches
}

// verify scans the first term's positions and binary-searches each later
// term for the consecutive offset. The first success wins.
func verify(positions [][]uint32) (uint32, bool) {
	for _, p := range positions[0] {
		found := true
		for i := 1; i < len(positions); i++ {
			if !contains(positions[i], p+uint32(i)) {
				found = false
				break
			}
		}
		if found {
			return p, true
		}
	}
	return 0, false
}

func contains(sorted []uint32, v uint32) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v })
	return i < len(sorted) && sorted[i] == v
}
