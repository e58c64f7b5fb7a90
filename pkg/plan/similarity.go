package plan

// similarityRatio computes the classic sequence-matcher ratio
// 2*M/(len(a)+len(b)), where M is the total length of matching blocks found
// by recursive longest-common-substring matching. Used for parameter-name
// fuzzy repair with the 0.7 acceptance threshold.
func similarityRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	matched := matchingBlocksLen([]byte(a), []byte(b))
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

func matchingBlocksLen(a, b []byte) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingBlocksLen(a[:ai], b[:bi])
	total += matchingBlocksLen(a[ai+size:], b[bi+size:])
	return total
}

func longestMatch(a, b []byte) (bestA, bestB, bestSize int) {
	// j2len[j] is the length of the longest match ending at a[i], b[j].
	j2len := make(map[int]int)
	for i := range a {
		next := make(map[int]int)
		for j := range b {
			if a[i] == b[j] {
				k := j2len[j-1] + 1
				next[j] = k
				if k > bestSize {
					bestA, bestB, bestSize = i-k+1, j-k+1, k
				}
			}
		}
		j2len = next
	}
	return bestA, bestB, bestSize
}
