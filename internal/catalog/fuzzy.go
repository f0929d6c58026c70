package catalog

import "strings"

// Similarity returns a normalized string-similarity ratio in [0, 1] using the
// Ratcliff/Obershelp algorithm: twice the number of matching characters over
// the total length of both strings. Comparison is case-insensitive.
func Similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matched := matchingChars(a, b)
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

// matchingChars counts matching characters by finding the longest common
// substring and recursing into the unmatched left and right remainders.
func matchingChars(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}

	matched := size
	matched += matchingChars(a[:ai], b[:bi])
	matched += matchingChars(a[ai+size:], b[bi+size:])
	return matched
}

// longestCommonSubstring returns the start offsets and length of the longest
// substring common to a and b.
func longestCommonSubstring(a, b string) (ai, bi, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}

	// lengths[j] is the length of the common suffix ending at a[i-1], b[j-1]
	// for the current row.
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}

	return ai, bi, size
}
